package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/PipeOpsHQ/sai/observe"
	observestore "github.com/PipeOpsHQ/sai/observe/store"
)

var errNoJournal = errors.New("event journal is not enabled")

// handleEvents lists journaled events for this session, or for one chain run
// with ?chain=<id>.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeError(w, http.StatusNotFound, errNoJournal)
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	query := observestore.ListQuery{Limit: limit, Offset: offset}

	var (
		events []observe.Event
		err    error
	)
	if chainID := q.Get("chain"); chainID != "" {
		events, err = s.cfg.Journal.ListEventsByChain(r.Context(), chainID, query)
	} else {
		events, err = s.cfg.Journal.ListEventsBySession(r.Context(), s.cfg.Session.ID(), query)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []observe.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleEventSummary counts journaled events. ?all=true spans every session
// and ?since=<RFC3339> bounds the window.
func (s *Server) handleEventSummary(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeError(w, http.StatusNotFound, errNoJournal)
		return
	}
	q := r.URL.Query()
	query := observestore.SummaryQuery{SessionID: s.cfg.Session.ID()}
	if all, _ := strconv.ParseBool(q.Get("all")); all {
		query.SessionID = ""
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid since: %w", err))
			return
		}
		query.Since = &since
	}
	summary, err := s.cfg.Journal.Summarize(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
