package api

import (
	"encoding/json"
	stdErrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/tool"

	"OpenMCP-WalletKit/internal/action"
	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/invocation"
)

const maxBodyBytes = 1 << 20

// ToolDescriptor 描述一个可调用的工具。
type ToolDescriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Source      string           `json:"source,omitempty"`
	Schema      *tool.JSONSchema `json:"schema"`
}

// InvokeRequest 是同步调用的请求体。
type InvokeRequest struct {
	Arguments map[string]any `json:"arguments"`
}

// InvokeResponse 是同步调用的结果，无论成败 HTTP 状态均为 200。
type InvokeResponse struct {
	Tool            string        `json:"tool"`
	Status          action.Status `json:"status"`
	Output          string        `json:"output"`
	TransactionHash string        `json:"transaction_hash,omitempty"`
	Code            string        `json:"code,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.kit == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "工具集未初始化")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"network": s.kit.Network(),
		"address": s.kit.Provider().Address(),
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	if s.kit == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "工具集未初始化")
		return
	}
	tools := s.kit.Tools()
	out := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Source:      t.Source(),
			Schema:      t.Schema(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	if s.kit == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "工具集未初始化")
		return
	}
	name := r.PathValue("name")
	if !s.kit.Has(name) {
		writeError(w, http.StatusNotFound, string(action.CodeActionNotFound), action.Unavailable(name).Message)
		return
	}
	var req InvokeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败: "+err.Error())
		return
	}
	result := s.kit.Call(r.Context(), name, req.Arguments)
	writeJSON(w, http.StatusOK, InvokeResponse{
		Tool:            name,
		Status:          result.Status,
		Output:          result.String(),
		TransactionHash: result.TransactionHash,
		Code:            string(result.Code),
	})
}

func (s *Server) handleSubmitInvocation(w http.ResponseWriter, r *http.Request) {
	if s.invocations == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "异步调用未启用")
		return
	}
	var req invocation.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败: "+err.Error())
		return
	}
	record, err := s.invocations.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if s.invocations == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "异步调用未启用")
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), err.Error())
		return
	}
	records, err := s.invocations.List(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleInvocationStats(w http.ResponseWriter, r *http.Request) {
	if s.invocations == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "异步调用未启用")
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), err.Error())
		return
	}
	stats, err := s.invocations.Stats(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleInvocationDetail(w http.ResponseWriter, r *http.Request) {
	if s.invocations == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "异步调用未启用")
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "缺少调用 ID")
		return
	}
	record, err := s.invocations.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func parseListOptions(r *http.Request) ([]invocation.ListOption, error) {
	query := r.URL.Query()
	var opts []invocation.ListOption
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, stdErrors.New("limit 必须为正整数")
		}
		opts = append(opts, invocation.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, stdErrors.New("offset 必须为非负整数")
		}
		opts = append(opts, invocation.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []invocation.Status
		for _, part := range strings.Split(raw, ",") {
			status := invocation.Status(strings.ToLower(strings.TrimSpace(part)))
			if !invocation.IsValidStatus(status) {
				return nil, stdErrors.New("未知的状态: " + part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, invocation.WithStatuses(statuses...))
	}
	if raw := query.Get("tool"); raw != "" {
		opts = append(opts, invocation.WithTool(raw))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, invocation.WithSortOrder(invocation.SortByUpdatedAsc))
	}
	return opts, nil
}

// decodeBody 保留数字原文，大额 uint256 不会被转换成 float64。
func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		if stdErrors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case invocation.CodeInvocationNotFound, action.CodeActionNotFound:
		status = http.StatusNotFound
	case invocation.CodeInvocationValidation, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case invocation.CodeInvocationConflict:
		status = http.StatusConflict
	case invocation.CodeInvocationPublish, xerrors.CodeQueueFailure, xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	message := err.Error()
	if coded, ok := xerrors.From(err); ok {
		message = coded.Message()
	}
	writeError(w, status, string(code), message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
