package rbac

const (
	ServerHR      = "mcp-hr"
	ServerFinance = "mcp-finance"
	ServerSales   = "mcp-sales"
	ServerSupport = "mcp-support"

	RoleExecutive = "executive"
)

func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var (
	limitProp  = map[string]any{"type": "integer", "minimum": 1, "maximum": 500, "description": "maximum rows to return"}
	cursorProp = map[string]any{"type": "string", "description": "opaque cursor from a previous page"}
	stringProp = func(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
)

// DefaultTable is the routing table used when no file is configured.
func DefaultTable() Table {
	return Table{
		AllAccessRole: RoleExecutive,
		Roles: map[string][]string{
			"hr-read":       {ServerHR},
			"hr-write":      {ServerHR},
			"finance-read":  {ServerFinance},
			"finance-write": {ServerFinance},
			"sales-read":    {ServerSales},
			"sales-write":   {ServerSales},
			"support-read":  {ServerSupport},
			"support-write": {ServerSupport},
		},
		Servers: map[string][]Tool{
			ServerHR: {
				{Name: "list_employees", Kind: KindRead, Description: "List employees visible to the caller, optionally filtered by department.",
					Parameters: objectSchema(nil, map[string]any{"department": stringProp("department name"), "limit": limitProp, "cursor": cursorProp})},
				{Name: "get_employee", Kind: KindRead, Description: "Fetch one employee record by id.",
					Parameters: objectSchema([]string{"employeeId"}, map[string]any{"employeeId": stringProp("employee id")})},
				{Name: "update_salary", Kind: KindWrite, Description: "Change an employee's salary. Requires human confirmation.",
					Parameters: objectSchema([]string{"employeeId", "salary"}, map[string]any{"employeeId": stringProp("employee id"), "salary": map[string]any{"type": "number"}})},
				{Name: "delete_employee", Kind: KindWrite, Description: "Remove an employee record. Requires human confirmation.",
					Parameters: objectSchema([]string{"employeeId"}, map[string]any{"employeeId": stringProp("employee id"), "reason": stringProp("reason for removal")})},
			},
			ServerFinance: {
				{Name: "list_invoices", Kind: KindRead, Description: "List invoices, optionally filtered by status.",
					Parameters: objectSchema(nil, map[string]any{"status": stringProp("invoice status"), "limit": limitProp, "cursor": cursorProp})},
				{Name: "get_budget", Kind: KindRead, Description: "Fetch a department budget summary.",
					Parameters: objectSchema([]string{"department"}, map[string]any{"department": stringProp("department name")})},
				{Name: "approve_invoice", Kind: KindWrite, Description: "Approve an invoice for payment. Requires human confirmation.",
					Parameters: objectSchema([]string{"invoiceId"}, map[string]any{"invoiceId": stringProp("invoice id")})},
				{Name: "delete_invoice", Kind: KindWrite, Description: "Delete a draft invoice. Requires human confirmation.", ConfirmTTLSeconds: 120,
					Parameters: objectSchema([]string{"invoiceId"}, map[string]any{"invoiceId": stringProp("invoice id")})},
			},
			ServerSales: {
				{Name: "list_opportunities", Kind: KindRead, Description: "List sales opportunities by stage.",
					Parameters: objectSchema(nil, map[string]any{"stage": stringProp("pipeline stage"), "limit": limitProp, "cursor": cursorProp})},
				{Name: "get_customer", Kind: KindRead, Description: "Fetch one customer by id.",
					Parameters: objectSchema([]string{"customerId"}, map[string]any{"customerId": stringProp("customer id")})},
				{Name: "close_opportunity", Kind: KindWrite, Description: "Mark an opportunity won or lost. Requires human confirmation.",
					Parameters: objectSchema([]string{"opportunityId", "outcome"}, map[string]any{"opportunityId": stringProp("opportunity id"), "outcome": map[string]any{"type": "string", "enum": []string{"won", "lost"}}})},
				{Name: "delete_customer", Kind: KindWrite, Description: "Delete a customer record. Requires human confirmation.",
					Parameters: objectSchema([]string{"customerId"}, map[string]any{"customerId": stringProp("customer id")})},
			},
			ServerSupport: {
				{Name: "search_tickets", Kind: KindRead, Description: "Search support tickets by text and status.",
					Parameters: objectSchema(nil, map[string]any{"query": stringProp("search text"), "status": stringProp("ticket status"), "limit": limitProp, "cursor": cursorProp})},
				{Name: "get_article", Kind: KindRead, Description: "Fetch a knowledge base article.",
					Parameters: objectSchema([]string{"articleId"}, map[string]any{"articleId": stringProp("article id")})},
				{Name: "close_ticket", Kind: KindWrite, Description: "Close a ticket with a resolution. Requires human confirmation.",
					Parameters: objectSchema([]string{"ticketId", "resolution"}, map[string]any{"ticketId": stringProp("ticket id"), "resolution": stringProp("resolution summary")})},
			},
		},
	}
}
