package backend

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"agentd/internal/infra/store"
)

// NewMemoryServer builds the memory endpoint: free-form notes with
// substring search.
func NewMemoryServer(st *store.Store, opts Options) *Server {
	s := newServer(opts)

	s.addTool(&mcp.Tool{
		Name:        "save_memory",
		Description: "Save a piece of information to remember for later.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"text": stringProp("The information to remember."),
		}, "text"),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Text string `json:"text"`
		}
		if err := decodeArgs(req, &args); err != nil {
			return errorResult("%v", err), nil
		}
		memory, err := st.SaveMemory(args.Text)
		if err != nil {
			return errorResult("save memory: %v", err), nil
		}
		return jsonResult(memory)
	})

	s.addTool(&mcp.Tool{
		Name:        "search_memories",
		Description: "Search saved memories by keyword.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"query": stringProp("Keyword to search for."),
		}, "query"),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Query string `json:"query"`
		}
		if err := decodeArgs(req, &args); err != nil {
			return errorResult("%v", err), nil
		}
		memories, err := st.SearchMemories(args.Query)
		if err != nil {
			return errorResult("search memories: %v", err), nil
		}
		return jsonResult(memories)
	})

	s.addTool(&mcp.Tool{
		Name:        "get_all_memories",
		Description: "List every saved memory.",
		InputSchema: objectSchema(nil),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		memories, err := st.AllMemories()
		if err != nil {
			return errorResult("list memories: %v", err), nil
		}
		return jsonResult(memories)
	})

	return s
}
