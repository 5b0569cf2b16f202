package backend

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"agentd/internal/infra/store"
)

// NewCalendarServer builds the calendar endpoint.
func NewCalendarServer(st *store.Store, opts Options) *Server {
	s := newServer(opts)

	s.addTool(&mcp.Tool{
		Name:        "get_events",
		Description: "List calendar events, optionally for a single day.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"date": stringProp("Day to filter by, formatted YYYY-MM-DD."),
		}),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Date string `json:"date"`
		}
		if err := decodeArgs(req, &args); err != nil {
			return errorResult("%v", err), nil
		}
		events, err := st.Events(args.Date)
		if err != nil {
			return errorResult("list events: %v", err), nil
		}
		return jsonResult(events)
	})

	s.addTool(&mcp.Tool{
		Name:        "add_event",
		Description: "Add a calendar event.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"title": stringProp("Event title."),
			"date":  stringProp("Event day, formatted YYYY-MM-DD."),
			"time":  stringProp("Optional start time, formatted HH:MM."),
		}, "title", "date"),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Title string `json:"title"`
			Date  string `json:"date"`
			Time  string `json:"time"`
		}
		if err := decodeArgs(req, &args); err != nil {
			return errorResult("%v", err), nil
		}
		event, err := st.AddEvent(args.Title, args.Date, args.Time)
		if err != nil {
			return errorResult("add event: %v", err), nil
		}
		return jsonResult(event)
	})

	return s
}
