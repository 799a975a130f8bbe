// Package migrate moves flat legacy stores into the partitioned layout
// and keeps a durable ledger of how far each venue has come.
//
// The ledger (the "plan") is a JSON document updated after every chunk
// of work, so an interrupted migration resumes where it stopped instead
// of starting over. Schema versioning is a hard gate: a plan written by
// a different schema is rejected, never guessed at.
package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tickvault/tickvault/internal/errors"
)

// PlanSchemaVersion is the only plan schema this build reads or writes.
const PlanSchemaVersion = 1

// Migration status values for venues and intervals.
const (
	StatusPending   = "pending"
	StatusMigrating = "migrating"
	StatusComplete  = "complete"
	StatusFailed    = "failed"
)

// Totals carries row counts once verification has run. Nil means not
// yet counted.
type Totals struct {
	LegacyRows    *int64 `json:"legacy_rows"`
	PartitionRows *int64 `json:"partition_rows"`
}

// Jobs tracks chunk progress within one interval migration. One job is
// one legacy ticker file.
type Jobs struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

// Verification records how an interval migration was checked.
type Verification struct {
	Method     string     `json:"method,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// IntervalMigration is the ledger entry of one (venue, interval).
type IntervalMigration struct {
	LegacyPath    string       `json:"legacy_path"`
	PartitionPath string       `json:"partition_path"`
	Status        string       `json:"status"`
	Totals        Totals       `json:"totals"`
	Jobs          Jobs         `json:"jobs"`
	ResumeToken   string       `json:"resume_token,omitempty"`
	Verification  Verification `json:"verification"`
}

// Venue groups the interval migrations of one market+source pair. ID is
// the composite "market:source" key, unique within a plan.
type Venue struct {
	ID          string                        `json:"id"`
	Market      string                        `json:"market"`
	Source      string                        `json:"source"`
	Status      string                        `json:"status"`
	LastUpdated time.Time                     `json:"last_updated"`
	Intervals   map[string]*IntervalMigration `json:"intervals"`
}

// Plan is the persisted migration ledger. Venue order is preserved from
// the document: migrations run in the order the plan lists them.
type Plan struct {
	SchemaVersion int       `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	CreatedBy     string    `json:"created_by"`
	LegacyRoot    string    `json:"legacy_root"`
	Venues        []*Venue  `json:"venues"`
}

// VenueID builds the canonical venue key.
func VenueID(market, source string) string {
	return market + ":" + source
}

// NewPlan creates an empty plan ledger.
func NewPlan(legacyRoot, createdBy string, now time.Time) *Plan {
	return &Plan{
		SchemaVersion: PlanSchemaVersion,
		GeneratedAt:   now.UTC(),
		CreatedBy:     createdBy,
		LegacyRoot:    legacyRoot,
	}
}

// AddInterval registers an interval migration under a venue, creating
// the venue entry on first use.
func (p *Plan) AddInterval(market, source, interval, legacyPath, partitionPath string, now time.Time) {
	id := VenueID(market, source)
	v, err := p.Venue(id)
	if err != nil {
		v = &Venue{
			ID:          id,
			Market:      market,
			Source:      source,
			Status:      StatusPending,
			LastUpdated: now.UTC(),
			Intervals:   make(map[string]*IntervalMigration),
		}
		p.Venues = append(p.Venues, v)
	}
	v.Intervals[interval] = &IntervalMigration{
		LegacyPath:    legacyPath,
		PartitionPath: partitionPath,
		Status:        StatusPending,
	}
}

// ParsePlan decodes and validates a plan document.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	if p.SchemaVersion != PlanSchemaVersion {
		return nil, fmt.Errorf("plan: %w", errors.NewUnsupportedVersion(p.SchemaVersion, PlanSchemaVersion))
	}

	verrs := errors.NewValidationErrors()
	seen := make(map[string]bool, len(p.Venues))
	for _, v := range p.Venues {
		if v.ID == "" {
			v.ID = VenueID(v.Market, v.Source)
		}
		if v.Market == "" {
			verrs.AddMissing(fmt.Sprintf("venue %s: market", v.ID))
		}
		if v.Source == "" {
			verrs.AddMissing(fmt.Sprintf("venue %s: source", v.ID))
		}
		if seen[v.ID] {
			verrs.AddField(fmt.Sprintf("venue %s", v.ID), "duplicate id")
		}
		seen[v.ID] = true
		if v.Status == "" {
			v.Status = StatusPending
		}

		for _, interval := range v.IntervalNames() {
			im := v.Intervals[interval]
			if im.Status == "" {
				im.Status = StatusPending
			}
			if im.LegacyPath == "" {
				verrs.AddMissing(fmt.Sprintf("venue %s interval %s: legacy_path", v.ID, interval))
			}
			if im.PartitionPath == "" {
				verrs.AddMissing(fmt.Sprintf("venue %s interval %s: partition_path", v.ID, interval))
			}
		}
	}
	if err := verrs.Err(); err != nil {
		return nil, err
	}

	return &p, nil
}

// LoadPlan reads and validates the plan at path.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, errors.ErrPlanNotFound)
		}
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(data)
}

// Write persists the plan atomically via a temp file in the same
// directory. Called after every transition so a crash loses at most the
// chunk in flight.
func (p *Plan) Write(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	data = append(data, '\n')

	tmp := fmt.Sprintf("%s.tmp-%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write plan temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename plan: %w", err)
	}
	return nil
}

// Venue looks up a venue by exact id. No fuzzy matching: a typo must
// fail loudly, not migrate the wrong venue.
func (p *Plan) Venue(id string) (*Venue, error) {
	for _, v := range p.Venues {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, fmt.Errorf("venue '%s': %w", id, errors.ErrVenueNotFound)
}

// IntervalNames returns the venue's interval keys sorted.
func (v *Venue) IntervalNames() []string {
	names := make([]string, 0, len(v.Intervals))
	for name := range v.Intervals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Interval looks up one interval entry.
func (v *Venue) Interval(name string) (*IntervalMigration, error) {
	im, ok := v.Intervals[name]
	if !ok {
		return nil, fmt.Errorf("interval '%s': %w", name, errors.ErrIntervalNotFound)
	}
	return im, nil
}

// resolvePath resolves p against base unless p is already absolute.
// Plans stay relocatable because resolution happens at use, never at
// load.
func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// ResolveLegacyRoot resolves the plan-level legacy root against base.
func (p *Plan) ResolveLegacyRoot(base string) string {
	return resolvePath(base, p.LegacyRoot)
}

// ResolveLegacyPath resolves the interval's legacy directory against base.
func (im *IntervalMigration) ResolveLegacyPath(base string) string {
	return resolvePath(base, im.LegacyPath)
}

// ResolvePartitionPath resolves the interval's partition root against base.
func (im *IntervalMigration) ResolvePartitionPath(base string) string {
	return resolvePath(base, im.PartitionPath)
}

// IntervalUpdate carries the fields UpdateInterval may change. Nil
// fields keep their current values.
type IntervalUpdate struct {
	Status        *string
	LegacyRows    *int64
	PartitionRows *int64
	JobsTotal     *int
	JobsCompleted *int
	ResumeToken   *string
	VerifyMethod  *string
	VerifiedAt    *time.Time
}

// UpdateInterval is the sole mutation entry point for interval state.
// It applies the update, restamps the venue's last_updated, and
// rederives the venue status from its intervals.
func (p *Plan) UpdateInterval(venueID, interval string, upd IntervalUpdate, now time.Time) error {
	v, err := p.Venue(venueID)
	if err != nil {
		return err
	}
	im, err := v.Interval(interval)
	if err != nil {
		return err
	}

	if upd.Status != nil {
		im.Status = *upd.Status
	}
	if upd.LegacyRows != nil {
		im.Totals.LegacyRows = upd.LegacyRows
	}
	if upd.PartitionRows != nil {
		im.Totals.PartitionRows = upd.PartitionRows
	}
	if upd.JobsTotal != nil {
		im.Jobs.Total = *upd.JobsTotal
	}
	if upd.JobsCompleted != nil {
		im.Jobs.Completed = *upd.JobsCompleted
	}
	if upd.ResumeToken != nil {
		im.ResumeToken = *upd.ResumeToken
	}
	if upd.VerifyMethod != nil {
		im.Verification.Method = *upd.VerifyMethod
	}
	if upd.VerifiedAt != nil {
		im.Verification.VerifiedAt = upd.VerifiedAt
	}

	v.LastUpdated = now.UTC()
	v.Status = v.deriveStatus()
	return nil
}

// deriveStatus folds interval statuses into a venue status.
func (v *Venue) deriveStatus() string {
	if len(v.Intervals) == 0 {
		return StatusPending
	}

	allComplete := true
	allPending := true
	for _, im := range v.Intervals {
		switch im.Status {
		case StatusFailed:
			return StatusFailed
		case StatusComplete:
			allPending = false
		case StatusPending:
			allComplete = false
		default:
			allComplete = false
			allPending = false
		}
	}
	if allComplete {
		return StatusComplete
	}
	if allPending {
		return StatusPending
	}
	return StatusMigrating
}
