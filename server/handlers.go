package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/llm"
	"github.com/PipeOpsHQ/sai/session"
)

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chainRequest struct {
	Instructions []string `json:"instructions"`
	Input        string   `json:"input"`
}

type memorySettingsRequest struct {
	Enabled *bool `json:"enabled"`
	Window  *int  `json:"window"`
}

type toolResult struct {
	Tool   string `json:"tool"`
	Result string `json:"result"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reply, err := s.cfg.Session.Send(r.Context(), req.Prompt)
	if err != nil {
		s.writeSendError(w, reply, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// writeSendError keeps the measured latency in failed chat responses.
func (s *Server) writeSendError(w http.ResponseWriter, reply session.Reply, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.cfg.Logger.Warn().Err(err).Int("status", status).Msg("chat request failed")
	}
	body := map[string]any{"error": err.Error(), "latencyMs": reply.LatencyMs}
	var te *llm.TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		body["upstreamStatus"] = te.StatusCode
	}
	writeJSON(w, status, body)
}

func (s *Server) handleRunChain(w http.ResponseWriter, r *http.Request) {
	var req chainRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.cfg.Session.RunChain(r.Context(), req.Instructions, req.Input)
	if err != nil {
		s.writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) writeChainError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}
	var stepErr *chain.ChainStepError
	if errors.As(err, &stepErr) {
		body["step"] = stepErr.Step
	}
	writeJSON(w, statusFor(err), body)
}

// handleChainHistory returns the in-memory history, or archived runs from the
// state store when ?archived=true.
func (s *Server) handleChainHistory(w http.ResponseWriter, r *http.Request) {
	var (
		runs []chain.Run
		err  error
	)
	if archived, _ := strconv.ParseBool(r.URL.Query().Get("archived")); archived {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err = s.cfg.Session.ArchivedChainRuns(r.Context(), limit)
	} else {
		runs, err = s.cfg.Session.ChainHistory(r.Context())
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if runs == nil {
		runs = []chain.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Session.Templates(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if list == nil {
		list = []chain.Template{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl chain.Template
	if err := decodeJSON(w, r, &tpl); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := tpl.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := s.cfg.Session.SaveTemplate(r.Context(), tpl)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Session.DeleteTemplate(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input string `json:"input"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.cfg.Session.RunTemplate(r.Context(), r.PathValue("name"), req.Input)
	if err != nil {
		s.writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	turns, err := s.cfg.Session.MemorySnapshot(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	settings, err := s.cfg.Session.Settings(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationHistory": turns,
		"memorySettings":      session.MemorySettings{Enabled: settings.MemoryEnabled, Window: settings.MemoryWindow},
	})
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Session.ClearMemory(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMemorySettings(w http.ResponseWriter, r *http.Request) {
	var req memorySettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	settings, err := s.cfg.Session.Configure(r.Context(), session.Patch{MemoryEnabled: req.Enabled, MemoryWindow: req.Window})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, session.MemorySettings{Enabled: settings.MemoryEnabled, Window: settings.MemoryWindow})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	report, err := s.cfg.Session.Analytics(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Session.Tools(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	list, err := s.cfg.Session.Tools(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	known := false
	for _, d := range list {
		if d.ID == id {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown tool %q", id))
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(strings.TrimSpace(string(raw))) > 0 && !json.Valid(raw) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("tool arguments must be JSON"))
		return
	}
	out, err := s.cfg.Session.ExecuteTool(r.Context(), id, raw)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toolResult{Tool: id, Result: out})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.cfg.Session.Settings(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var patch session.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	settings, err := s.cfg.Session.Configure(r.Context(), patch)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleExportMemory(w http.ResponseWriter, r *http.Request) {
	export, err := s.cfg.Session.ExportMemory(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeAttachment(w, "sai-memory-export-"+export.ExportDate.Format("2006-01-02")+".json", export)
}

func (s *Server) handleExportData(w http.ResponseWriter, r *http.Request) {
	export, err := s.cfg.Session.ExportData(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeAttachment(w, "sai-data-export-"+s.now().UTC().Format("2006-01-02")+".json", export)
}

func writeAttachment(w http.ResponseWriter, filename string, payload any) {
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
