package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
)

const (
	defaultStatusLimit = 20
	maxStatusLimit     = 200
)

type statusResponse struct {
	InFlight  []string      `json:"inFlight"`
	Confirmed []stateView   `json:"confirmed"`
	Recent    []outcomeView `json:"recent"`
}

type stateView struct {
	Network     string    `json:"network"`
	FeedID      string    `json:"feedId"`
	Price       string    `json:"price"`
	PublishTime time.Time `json:"publishTime"`
	InFlight    bool      `json:"inFlight"`
}

type outcomeView struct {
	CycleID     string    `json:"cycleId,omitempty"`
	Network     string    `json:"network"`
	Sequence    int       `json:"sequence"`
	Status      string    `json:"status"`
	Feeds       []string  `json:"feeds"`
	ErrorClass  string    `json:"errorClass,omitempty"`
	Error       string    `json:"error,omitempty"`
	TxHash      string    `json:"txHash,omitempty"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	GasUsed     uint64    `json:"gasUsed,omitempty"`
	FeeNative   string    `json:"feeNative,omitempty"`
	FeeUSD      string    `json:"feeUsd,omitempty"`
	Explorer    string    `json:"explorer,omitempty"`
	Attempts    int       `json:"attempts"`
	FinishedAt  time.Time `json:"finishedAt"`
}

func newOutcomeView(o entity.SubmissionOutcome) outcomeView {
	v := outcomeView{
		CycleID:    o.CycleID,
		Network:    o.Network,
		Sequence:   o.Sequence,
		Status:     o.Status(),
		Feeds:      o.FeedIDs,
		ErrorClass: string(o.ErrorClass),
		Error:      o.ErrorMessage(),
		Attempts:   o.Attempts,
		FinishedAt: o.FinishedAt,
	}
	if o.Success {
		v.TxHash = o.TxHash.Hex()
		v.BlockNumber = o.BlockNumber
		v.GasUsed = o.GasUsed
		v.FeeNative = o.FeeNative.String()
		v.Explorer = o.ExplorerURL
		if o.FeeUSD != nil {
			v.FeeUSD = o.FeeUSD.StringFixed(4)
		}
	}
	return v
}

// handleStatus lists in-flight networks, the confirmed price of every feed
// and the most recent outcomes.
// ?limit=N bounds the number of outcomes.
func (hs *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	limit := defaultStatusLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			hs.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxStatusLimit)
	}

	inFlight := hs.status.InFlightNetworks()
	if inFlight == nil {
		inFlight = []string{}
	}

	states := hs.status.ConfirmedStates()
	confirmed := make([]stateView, 0, len(states))
	for _, st := range states {
		confirmed = append(confirmed, stateView{
			Network:     st.Network,
			FeedID:      st.FeedID,
			Price:       st.LastConfirmedPrice.String(),
			PublishTime: st.LastConfirmedTime,
			InFlight:    st.InFlight,
		})
	}

	recent := hs.status.RecentOutcomes(limit)
	views := make([]outcomeView, 0, len(recent))
	for _, o := range recent {
		views = append(views, newOutcomeView(o))
	}

	hs.respondJSON(w, http.StatusOK, statusResponse{InFlight: inFlight, Confirmed: confirmed, Recent: views})
}
