//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "fundgate/pkg/platform/audit"
	"fundgate/pkg/platform/audit/store/postgres"
	"fundgate/pkg/testutil/containers"
)

type OutboxStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestOutboxStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OutboxStoreSuite))
}

func (s *OutboxStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *OutboxStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "outbox")
	s.Require().NoError(err)
}

func (s *OutboxStoreSuite) TestAppendAndFetch() {
	ctx := context.Background()
	event := audit.Event{
		Timestamp:    time.Now().UTC(),
		Account:      "alice",
		Action:       string(audit.EventIssuanceMinted),
		Actor:        "alice",
		Jurisdiction: "CH",
		Amount:       "1000000000",
	}
	s.Require().NoError(s.store.Append(ctx, event))

	entries, err := s.store.FetchUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(string(audit.EventIssuanceMinted), entries[0].EventType)

	var payload map[string]any
	s.Require().NoError(json.Unmarshal(entries[0].Payload, &payload))
	s.Equal("alice", payload["Account"])
	s.Equal("CH", payload["Jurisdiction"])
	s.Equal("1000000000", payload["Amount"])
}

func (s *OutboxStoreSuite) TestMarkPublishedExcludesFromFetch() {
	ctx := context.Background()
	for range 3 {
		event := audit.Event{
			Timestamp: time.Now().UTC(),
			Account:   "alice",
			Action:    string(audit.EventIssuanceMinted),
		}
		s.Require().NoError(s.store.Append(ctx, event))
	}

	entries, err := s.store.FetchUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 3)

	s.Require().NoError(s.store.MarkPublished(ctx, entries[0].ID))

	remaining, err := s.store.FetchUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Len(remaining, 2)
	for _, entry := range remaining {
		s.NotEqual(entries[0].ID, entry.ID)
	}
}

func (s *OutboxStoreSuite) TestFetchHonorsLimit() {
	ctx := context.Background()
	for range 5 {
		event := audit.Event{
			Timestamp: time.Now().UTC(),
			WindowID:  7,
			Action:    string(audit.EventWindowOpened),
		}
		s.Require().NoError(s.store.Append(ctx, event))
	}

	entries, err := s.store.FetchUnpublished(ctx, 2)
	s.Require().NoError(err)
	s.Len(entries, 2)
}
