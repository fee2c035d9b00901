// Package server 通过 HTTP 暴露工作流的结果
//
//	GET /                     工作流列表
//	GET /{workflow}           工作流输出的名称列表
//	GET /{workflow}/{name...} 单个输出的内容
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"nutflow/pkg/errs"
	"nutflow/pkg/nut"
	"nutflow/pkg/pipeline"
)

// Runner 是 handler 需要的全部能力 (pipeline.Orchestrator 和 app.App 都满足)
type Runner interface {
	RunWorkflow(ctx context.Context, workflowID, name string, opts ...pipeline.RunOption) ([]nut.Nut, error)
	WorkflowIDs() []string
}

type handler struct {
	runner Runner
	log    *slog.Logger
	mux    *http.ServeMux
}

// NewHandler 注册路由并套上中间件
func NewHandler(runner Runner, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &handler{runner: runner, log: log, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /{$}", h.listWorkflows)
	h.mux.HandleFunc("GET /{workflow}", h.listArtifacts)
	h.mux.HandleFunc("GET /{workflow}/{name...}", h.serveArtifact)

	return Chain(h.mux, RequestID, Logging(log), Recovery(log))
}

func (h *handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workflows": h.runner.WorkflowIDs()})
}

type artifactInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Version  string `json:"version,omitempty"`
	ProxyURI string `json:"proxy_uri,omitempty"`
}

func (h *handler) listArtifacts(w http.ResponseWriter, r *http.Request) {
	workflow := r.PathValue("workflow")
	out, err := h.runner.RunWorkflow(r.Context(), workflow, "", pipeline.WithCompression(false))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	infos := make([]artifactInfo, 0, len(out))
	for _, n := range out {
		v, err := n.Version(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		infos = append(infos, artifactInfo{Name: n.Name(), Type: n.Type().Name, Version: v.String(), ProxyURI: n.ProxyURI()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow": workflow, "artifacts": infos})
}

func (h *handler) serveArtifact(w http.ResponseWriter, r *http.Request) {
	workflow, name := r.PathValue("workflow"), r.PathValue("name")
	accepted := acceptedEncodings(r.Header.Get("Accept-Encoding"))

	b, err := h.materialize(r.Context(), workflow, name, len(accepted) > 0)
	if err == nil && b.ContentEncoding() != "" && !slices.Contains(accepted, b.ContentEncoding()) {
		// 配置的压缩算法客户端不支持，退回明文
		b, err = h.materialize(r.Context(), workflow, name, false)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", b.Type().MimeType)
	hdr.Set("Vary", "Accept-Encoding")
	enc := b.ContentEncoding()
	if v, _ := b.Version(r.Context()); !v.IsZero() {
		tag := v.String()
		if enc != "" {
			// 同一版本的不同编码是不同的表示
			tag += "-" + enc
		}
		hdr.Set("ETag", `"`+tag+`"`)
	}
	if enc != "" {
		hdr.Set("Content-Encoding", enc)
	}
	// ServeContent 负责 If-None-Match / Range / HEAD
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(b.Data()))
}

func (h *handler) materialize(ctx context.Context, workflow, name string, canCompress bool) (*nut.Bytes, error) {
	out, err := h.runner.RunWorkflow(ctx, workflow, name, pipeline.WithCompression(canCompress))
	if err != nil {
		return nil, err
	}
	return nut.Materialize(ctx, out[0])
}

// acceptedEncodings 解析 Accept-Encoding，忽略 q=0 和 identity
func acceptedEncodings(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		token, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" || token == "identity" {
			continue
		}
		if q := strings.ReplaceAll(params, " ", ""); q == "q=0" || q == "q=0.0" || q == "q=0.00" || q == "q=0.000" {
			continue
		}
		out = append(out, token)
	}
	return out
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.log.Error("workflow request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestIDFrom(r.Context())),
			slog.Any("err", err))
	}
	writeError(w, r, status, err.Error())
}

// statusFor 把错误类别映射为 HTTP 状态码
func statusFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return 499
	}
	switch errs.KindOf(err) {
	case errs.KindWorkflowNotFound, errs.KindArtifactNotFound, errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindUnsupported:
		return http.StatusNotImplemented
	case errs.KindIncompatibleTypes:
		return http.StatusUnprocessableEntity
	case errs.KindTransport, errs.KindLookup:
		if errs.IsTimeout(err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error":      msg,
		"request_id": RequestIDFrom(r.Context()),
	})
}
