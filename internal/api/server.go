// Package api exposes the admin and processing surface over HTTP: CRUD for
// rules and sequences, event ingestion, campaign sends, and cron-compatible
// processing endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ignite/member-messaging/internal/campaign"
	"github.com/ignite/member-messaging/internal/repository/postgres"
	"github.com/ignite/member-messaging/internal/scheduler"
	"github.com/ignite/member-messaging/internal/sequence"
	"github.com/ignite/member-messaging/internal/trigger"
)

// Dispatcher is the processing surface the API drives on demand.
type Dispatcher interface {
	Tick(ctx context.Context) (int, error)
	Stats() map[string]int64
}

// Server holds the handler dependencies. Any of the processing deps may be
// nil on instances that only serve the admin surface.
type Server struct {
	rules      *postgres.RuleStore
	sequences  *postgres.SequenceStore
	campaigns  *campaign.Service
	events     trigger.Publisher
	messages   *scheduler.Store
	seqEngine  *sequence.Engine
	dispatcher Dispatcher
	health     *HealthChecker
}

// NewServer wires the handler set.
func NewServer(
	rules *postgres.RuleStore,
	sequences *postgres.SequenceStore,
	campaigns *campaign.Service,
	events trigger.Publisher,
	messages *scheduler.Store,
	seqEngine *sequence.Engine,
	dispatcher Dispatcher,
) *Server {
	return &Server{
		rules:      rules,
		sequences:  sequences,
		campaigns:  campaigns,
		events:     events,
		messages:   messages,
		seqEngine:  seqEngine,
		dispatcher: dispatcher,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
