package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"orgflow/backend/internal/repository"
	"orgflow/backend/internal/workflow"
	"orgflow/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	engine    *workflow.Engine
	store     repository.Store
}

func NewServer(engine *workflow.Engine, store repository.Store) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Orgflow Workflow Engine",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine: engine,
		store:  store,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_start",
			mcp.WithDescription("Start a new workflow request"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant the request belongs to")),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow template to instantiate")),
			mcp.WithString("requestor_id", mcp.Required(), mcp.Description("Employee raising the request")),
			mcp.WithString("form_responses", mcp.Description("JSON object with the submission form payload")),
		),
		s.handleWorkflowStart,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"stage_complete",
			mcp.WithDescription("Approve or reject a pending workflow stage"),
			mcp.WithString("stage_id", mcp.Required(), mcp.Description("Instance stage to act on")),
			mcp.WithString("action", mcp.Required(), mcp.Description("Either 'approved' or 'rejected'")),
			mcp.WithString("acted_by", mcp.Required(), mcp.Description("Employee performing the action")),
			mcp.WithString("comment", mcp.Description("Optional comment recorded on the stage")),
		),
		s.handleStageComplete,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"request_status",
			mcp.WithDescription("Get the status and next pending stage of a workflow request"),
			mcp.WithString("request_id", mcp.Required(), mcp.Description("The workflow request ID")),
		),
		s.handleRequestStatus,
	)
}

func (s *Server) handleWorkflowStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	requestorID, ok := args["requestor_id"].(string)
	if !ok || requestorID == "" {
		return mcp.NewToolResultError("Missing required parameter: requestor_id"), nil
	}

	in := workflow.StartRequestInput{
		TenantID:     tenantID,
		WorkflowID:   workflowID,
		RequestorID:  requestorID,
		ActingUserID: requestorID,
	}
	if raw, ok := args["form_responses"].(string); ok && raw != "" {
		var responses map[string]any
		if err := json.Unmarshal([]byte(raw), &responses); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid form_responses JSON: %v", err)), nil
		}
		in.FieldResponses = responses
		in.FormResponses = responses
	}

	req, err := s.engine.StartRequest(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start request: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(req)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleStageComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	stageID, ok := args["stage_id"].(string)
	if !ok || stageID == "" {
		return mcp.NewToolResultError("Missing required parameter: stage_id"), nil
	}
	action, ok := args["action"].(string)
	if !ok || action == "" {
		return mcp.NewToolResultError("Missing required parameter: action"), nil
	}
	actedBy, ok := args["acted_by"].(string)
	if !ok || actedBy == "" {
		return mcp.NewToolResultError("Missing required parameter: acted_by"), nil
	}

	in := workflow.CompleteStageInput{
		StageID:       stageID,
		Action:        models.StageAction(action),
		ActedByUserID: actedBy,
	}
	if comment, ok := args["comment"].(string); ok {
		in.Comment = comment
	}

	if err := s.engine.CompleteStage(ctx, in); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to complete stage: %v", err)), nil
	}

	return mcp.NewToolResultText("Stage completed"), nil
}

func (s *Server) handleRequestStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	requestID, ok := args["request_id"].(string)
	if !ok || requestID == "" {
		return mcp.NewToolResultError("Missing required parameter: request_id"), nil
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load request: %v", err)), nil
	}
	next, err := s.engine.NextStage(ctx, requestID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve next stage: %v", err)), nil
	}

	out := map[string]any{
		"request":    req,
		"next_stage": next,
	}
	jsonBytes, _ := json.Marshal(out)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
