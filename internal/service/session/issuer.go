// internal/service/session/issuer.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/metrics"
	sess "quantumbulls-session/internal/pkg/session"

	"go.uber.org/zap"
)

// IssueOptions carries what the login flow knows about the new holder.
type IssueOptions struct {
	Override bool
	Device   sess.DeviceInfo
	Location sess.LocationInfo
}

// IssueResult is either a freshly written record with its token, or, when
// another device holds the session and Override was not set, the prior
// holder's view with an empty Token.
type IssueResult struct {
	Token  sess.Token
	Record *sess.AuthorityRecord
	Prior  *sess.RecordView
}

// Conflict reports whether the issue stopped at a prior holder.
func (r *IssueResult) Conflict() bool {
	return r.Prior != nil && r.Token.IsZero()
}

// Issuer is the only writer of authority records.
type Issuer struct {
	store   sess.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewIssuer(store sess.Store, m *metrics.Metrics, logger *zap.Logger) *Issuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Issuer{
		store:   store,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Issue mints a token for an authenticated account and makes it the active one.
//
// Without Override an existing record stops the issue and is handed back as
// Prior. With Override the record is overwritten without being read, so the
// last write to land wins.
func (i *Issuer) Issue(ctx context.Context, accountID int64, opts IssueOptions) (*IssueResult, error) {
	if accountID <= 0 {
		return nil, xerrors.ErrInvalidInput
	}

	if !opts.Override {
		prior, err := i.store.Get(ctx, accountID)
		switch {
		case err == nil:
			view := prior.View()
			i.metrics.SessionConflicts.Inc()
			i.logger.Info("session held by another device",
				zap.Int64("account_id", accountID),
				zap.String("holder_device", prior.Device.Name),
				zap.Time("held_since", prior.UpdatedAt),
			)
			return &IssueResult{Prior: &view}, nil
		case errors.Is(err, xerrors.ErrRecordNotFound):
		default:
			i.metrics.IssueFailures.WithLabelValues("read").Inc()
			return nil, fmt.Errorf("failed to read authority record: %w", err)
		}
	}

	token, err := sess.NewToken()
	if err != nil {
		i.metrics.IssueFailures.WithLabelValues("mint").Inc()
		return nil, err
	}

	record := &sess.AuthorityRecord{
		AccountID:   accountID,
		ActiveToken: token,
		UpdatedAt:   i.now().UTC(),
		Device:      opts.Device,
		Location:    opts.Location,
	}
	if err := i.store.Put(ctx, record); err != nil {
		i.metrics.IssueFailures.WithLabelValues("write").Inc()
		if !errors.Is(err, xerrors.ErrRecordWrite) {
			err = fmt.Errorf("%w: %v", xerrors.ErrRecordWrite, err)
		}
		return nil, fmt.Errorf("failed to write authority record: %w", err)
	}

	i.metrics.SessionsIssued.WithLabelValues(strconv.FormatBool(opts.Override)).Inc()
	i.logger.Info("session issued",
		zap.Int64("account_id", accountID),
		zap.Bool("override", opts.Override),
		zap.String("device_id", opts.Device.ID),
	)
	return &IssueResult{Token: token, Record: record}, nil
}

// Authority returns the client view of the account's current record.
func (i *Issuer) Authority(ctx context.Context, accountID int64) (*sess.RecordView, error) {
	record, err := i.store.Get(ctx, accountID)
	if err != nil {
		outcome := "error"
		if errors.Is(err, xerrors.ErrRecordNotFound) {
			outcome = "missing"
		}
		i.metrics.AuthorityReads.WithLabelValues(outcome).Inc()
		return nil, err
	}
	i.metrics.AuthorityReads.WithLabelValues("ok").Inc()
	view := record.View()
	return &view, nil
}

// IsActive reports whether token is the account's active session token.
// A missing record means no token is active.
func (i *Issuer) IsActive(ctx context.Context, accountID int64, token sess.Token) (bool, error) {
	record, err := i.store.Get(ctx, accountID)
	if errors.Is(err, xerrors.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.ActiveToken.Equal(token), nil
}
