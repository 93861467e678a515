// Package ballot handles scan-event ingest, listing and export.
package ballot

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/electionbox/electionbox/internal/domain"
	"github.com/electionbox/electionbox/internal/repository"
	"github.com/electionbox/electionbox/internal/ws"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ErrMissingBarcode indicates an ingest payload without barcode data.
var ErrMissingBarcode = errors.New("barcode data is required")

// csvHeader is the column order of the dashboard export.
var csvHeader = []string{"ballot_id", "date", "time", "location", "barcode_data", "name"}

// Service handles ballot workflows.
type Service struct {
	ballots repository.BallotRepository
	hub     *ws.Hub
	logger  *slog.Logger
}

// New constructs a Service.
func New(ballots repository.BallotRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{ballots: ballots, hub: hub, logger: logger}
}

// RecordInput is one scan event as sent by a scanner station.
type RecordInput struct {
	BallotID    string `json:"ballot_id"`
	BarcodeData string `json:"IMB"`
	Name        string `json:"OCR"`
	Date        string `json:"DATE"`
	Time        string `json:"TIME"`
	Location    string `json:"LOCATION"`
}

// Record persists a scan event and broadcasts it to live feed subscribers.
// Stations may supply their own ballot id; otherwise one is generated.
func (s Service) Record(ctx context.Context, in RecordInput) (*domain.Ballot, error) {
	if strings.TrimSpace(in.BarcodeData) == "" {
		return nil, ErrMissingBarcode
	}
	id := strings.TrimSpace(in.BallotID)
	if id == "" {
		id = uuid.NewString()
	}
	b := &domain.Ballot{
		ID:          id,
		BarcodeData: strings.TrimSpace(in.BarcodeData),
		Name:        strings.TrimSpace(in.Name),
		Date:        strings.TrimSpace(in.Date),
		Time:        strings.TrimSpace(in.Time),
		Location:    strings.TrimSpace(in.Location),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.ballots.InsertBallot(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info("ballot recorded", "ballot_id", b.ID, "location", b.Location)
	s.publish(b)
	return b, nil
}

// Get returns a single scan event by ballot id.
func (s Service) Get(ctx context.Context, id string) (*domain.Ballot, error) {
	return s.ballots.GetBallotByID(ctx, id)
}

// List returns scan events, newest first.
func (s Service) List(ctx context.Context, limit, offset int) ([]domain.Ballot, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.ballots.ListBallots(ctx, limit, offset)
}

// ExportCSV streams every scan event to w as CSV, header first.
func (s Service) ExportCSV(ctx context.Context, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	err := s.ballots.ForEachBallot(ctx, func(b domain.Ballot) error {
		return cw.Write([]string{b.ID, b.Date, b.Time, b.Location, b.BarcodeData, b.Name})
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// Hub exposes the live feed for transport subscriptions.
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) publish(b *domain.Ballot) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(b)
	if err != nil {
		s.logger.Error("marshal ballot for feed", "error", err)
		return
	}
	s.hub.Broadcast(b.Location, payload)
}
