// Package clearance reads a student's multi-stage clearance checklist and permit state.
// Offices sign off elsewhere; this service only reports progress.
package clearance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/appointment"
	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

const Collection = "clearances"

const (
	fieldPermitReady     = "permitReady"
	fieldPermitURL       = "permitUrl"
	fieldPermitUpdatedAt = "permitUpdatedAt"
)

type Stage string

const (
	StagePrelim  Stage = "prelim"
	StageMidterm Stage = "midterm"
	StageFinal   Stage = "final"
)

// Stages lists the checklist stages in term order.
var Stages = []Stage{StagePrelim, StageMidterm, StageFinal}

type Status string

const (
	StatusCleared    Status = "CLEARED"
	StatusPartial    Status = "PARTIALLY_CLEARED"
	StatusNotCleared Status = "NOT_CLEARED"
)

// Requirements names, per stage and in display order, the offices that must sign off.
type Requirements map[Stage][]string

func DefaultRequirements() Requirements {
	return Requirements{
		StagePrelim:  {"Accounting Office"},
		StageMidterm: {"Accounting Office"},
		StageFinal: {
			"Accounting Office", "Admission Office", "AVP-ACAD", "Campus Ministry",
			"Community Extension", "Computer Laboratory", "Digital Laboratory",
			"Guidance Office", "Library", "Office of Student Affairs",
			"Program Heads", "Property Custodian", "Quality Management Office",
			"Scholarship and Grants Office", "Science Laboratory", "Supreme Student Council",
		},
	}
}

type OfficeCheck struct {
	Office  string `json:"office"`
	Cleared bool   `json:"cleared"`
}

type StageProgress struct {
	Stage   Stage         `json:"stage"`
	Status  Status        `json:"status"`
	Cleared int           `json:"cleared"`
	Total   int           `json:"total"`
	Offices []OfficeCheck `json:"offices"`
}

// Record is one student's clearance. PermitAvailable is set once staff flagged the permit
// ready with a URL and the final stage is fully cleared.
type Record struct {
	UserID          string          `json:"user_id"`
	Found           bool            `json:"found"`
	Stages          []StageProgress `json:"stages"`
	PermitReady     bool            `json:"permit_ready"`
	PermitURL       string          `json:"permit_url,omitempty"`
	PermitUpdatedAt *time.Time      `json:"permit_updated_at,omitempty"`
	PermitAvailable bool            `json:"permit_available"`
}

// FromSnapshot decodes clearances/{uid}. Each stage is a map of office name to a boolean,
// or to "true"/"false". Offices outside the requirements are ignored and a missing document
// reads as nothing cleared.
func FromSnapshot(snap *docstore.Snapshot, reqs Requirements) Record {
	rec := Record{Stages: make([]StageProgress, 0, len(Stages))}
	if snap != nil {
		rec.UserID = snap.ID
		rec.Found = snap.Exists
	}

	var data docstore.Fields
	if rec.Found {
		data = snap.Data
	}

	for _, stage := range Stages {
		marks, _ := data[string(stage)].(map[string]any)
		p := StageProgress{Stage: stage, Offices: make([]OfficeCheck, 0, len(reqs[stage]))}
		for _, office := range reqs[stage] {
			ok := truthy(marks[office])
			if ok {
				p.Cleared++
			}
			p.Offices = append(p.Offices, OfficeCheck{Office: office, Cleared: ok})
		}
		p.Total = len(p.Offices)
		p.Status = statusOf(p.Cleared, p.Total)
		rec.Stages = append(rec.Stages, p)
	}

	if rec.Found {
		rec.PermitReady = truthy(data[fieldPermitReady])
		rec.PermitURL = snap.String(fieldPermitURL)
		if t := snap.Time(fieldPermitUpdatedAt); !t.IsZero() {
			rec.PermitUpdatedAt = &t
		}
	}
	rec.PermitAvailable = rec.PermitReady && rec.PermitURL != "" && rec.Stage(StageFinal).Status == StatusCleared
	return rec
}

// Stage returns the progress of one stage, or a zero value for an unknown stage.
func (r Record) Stage(s Stage) StageProgress {
	for _, p := range r.Stages {
		if p.Stage == s {
			return p
		}
	}
	return StageProgress{}
}

func statusOf(cleared, total int) Status {
	switch {
	case total > 0 && cleared == total:
		return StatusCleared
	case cleared == 0:
		return StatusNotCleared
	default:
		return StatusPartial
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(b)
		return ok
	default:
		return false
	}
}

type Service struct {
	store docstore.Store
	reqs  Requirements
	log   *zap.Logger
}

func NewService(store docstore.Store, reqs Requirements, log *zap.Logger) *Service {
	if reqs == nil {
		reqs = DefaultRequirements()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, reqs: reqs, log: log}
}

// Get reports a user's clearance. A user without a record gets every stage not cleared.
func (s *Service) Get(ctx context.Context, userID string) (Record, error) {
	if userID == "" {
		return Record{}, fmt.Errorf("%w: user id is required", appointment.ErrValidation)
	}
	snap, err := s.store.Get(ctx, docstore.Doc(Collection, userID))
	if err != nil {
		return Record{}, fmt.Errorf("get clearance for %s: %w", userID, err)
	}
	rec := FromSnapshot(snap, s.reqs)
	rec.UserID = userID
	if !rec.Found {
		s.log.Debug("no clearance record", zap.String("user_id", userID))
	}
	return rec, nil
}
