package backend

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"agentd/internal/infra/store"
)

// NewTaskServer builds the task list endpoint.
func NewTaskServer(st *store.Store, opts Options) *Server {
	s := newServer(opts)

	s.addTool(&mcp.Tool{
		Name:        "get_tasks",
		Description: "List tasks. Pending tasks only unless includeCompleted is set.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"includeCompleted": booleanProp("Include completed tasks in the list."),
		}),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			IncludeCompleted bool `json:"includeCompleted"`
		}
		if err := decodeArgs(req, &args); err != nil {
			return errorResult("%v", err), nil
		}
		tasks, err := st.Tasks(!args.IncludeCompleted)
		if err != nil {
			return errorResult("list tasks: %v", err), nil
		}
		return jsonResult(tasks)
	})

	s.addTool(&mcp.Tool{
		Name:        "add_new_task",
		Description: "Add a new task to the list.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"description": stringProp("What needs to be done."),
		}, "description"),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Description string `json:"description"`
		}
		if err := decodeArgs(req, &args); err != nil {
			return errorResult("%v", err), nil
		}
		task, err := st.AddTask(args.Description)
		if err != nil {
			return errorResult("add task: %v", err), nil
		}
		return jsonResult(task)
	})

	s.addTool(&mcp.Tool{
		Name:        "complete_task",
		Description: "Mark a task as completed by its id.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"id": integerProp("Id of the task to complete."),
		}, "id"),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			ID uint64 `json:"id"`
		}
		if err := decodeArgs(req, &args); err != nil {
			return errorResult("%v", err), nil
		}
		task, err := st.CompleteTask(args.ID)
		if err != nil {
			return errorResult("complete task: %v", err), nil
		}
		return jsonResult(task)
	})

	return s
}
