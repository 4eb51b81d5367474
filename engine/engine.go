// Package engine assembles the provider data engine: the DynamoDB record
// store, the event bus writer, the ingest queue consumers, the notification
// idempotency tracker, and the scope-enforced read and write surface callers
// go through.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"golang.org/x/sync/errgroup"

	"github.com/compactmgr/engine/dynamodb"
	"github.com/compactmgr/engine/eventbus"
	"github.com/compactmgr/engine/idempotency"
	"github.com/compactmgr/engine/ingest"
	"github.com/compactmgr/engine/metrics"
	"github.com/compactmgr/engine/sanitize"
	"github.com/compactmgr/engine/scopes"
	"github.com/compactmgr/engine/sqs"
	"github.com/compactmgr/engine/types"
)

// Engine is one fully wired instance. It is safe for concurrent use once
// [New] returns.
type Engine struct {
	cfg       Config
	logger    types.Logger
	store     *dynamodb.Client
	tracker   *idempotency.Tracker
	handler   *ingest.Handlers
	newWriter ingest.WriterFactory
	m         *metrics.Metrics

	licenseConsumer      *sqs.Consumer
	deactivationConsumer *sqs.Consumer

	signingKey []byte
	clock      func() time.Time
}

// New loads AWS configuration, connects the storage and queue clients, and
// wires the queue handlers. The returned Engine is ready to serve reads;
// call [Engine.Run] to start the consumers.
func New(ctx context.Context, cfg Config, logger types.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return build(ctx, cfg, &awsCfg, logger)
}

func build(ctx context.Context, cfg Config, awsCfg *aws.Config, logger types.Logger) (*Engine, error) {
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	storeOpts := []dynamodb.Option{}
	if cfg.UsersTableName != "" {
		storeOpts = append(storeOpts, dynamodb.WithUsersTableName(cfg.UsersTableName))
	}

	store := dynamodb.New(awsCfg, cfg.ProviderTableName, storeOpts...)
	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect provider table client: %w", err)
	}

	if err := store.Init(ctx, false); err != nil {
		return nil, fmt.Errorf("failed to initialize provider table client: %w", err)
	}

	var tracker *idempotency.Tracker
	if cfg.IdempotencyTableName != "" {
		t, err := idempotency.NewTracker(awsCfg, cfg.IdempotencyTableName, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create idempotency tracker: %w", err)
		}
		tracker = t
	}

	newWriter := func() (ingest.EventWriter, error) {
		return eventbus.NewWriter(awsCfg, cfg.EventBusName, logger)
	}

	handlerOpts := []ingest.Option{ingest.WithMetrics(m)}
	if tracker != nil {
		handlerOpts = append(handlerOpts, ingest.WithTracker(tracker))
	}

	handler, err := ingest.New(store, newWriter, logger, handlerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest handlers: %w", err)
	}

	licenseConsumer, err := sqs.New(awsCfg, cfg.LicenseQueueName, logger).Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize license queue consumer: %w", err)
	}

	deactivationConsumer, err := sqs.New(awsCfg, cfg.DeactivationQueueName, logger).Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize deactivation queue consumer: %w", err)
	}

	return &Engine{
		cfg:                  cfg,
		logger:               logger,
		store:                store,
		tracker:              tracker,
		handler:              handler,
		newWriter:            newWriter,
		m:                    m,
		licenseConsumer:      licenseConsumer,
		deactivationConsumer: deactivationConsumer,
		signingKey:           []byte(cfg.TokenSigningKey),
		clock:                time.Now,
	}, nil
}

// Run starts both queue consumers and blocks until the context is canceled
// or a consumer fails.
func (e *Engine) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return e.licenseConsumer.Run(ctx, e.handler.HandleLicenseMessage)
	})

	group.Go(func() error {
		return e.deactivationConsumer.Run(ctx, e.handler.HandleDeactivationMessage)
	})

	return group.Wait()
}

// IssueUserToken computes the caller's scope set from their stored
// permission records and issues a signed access token carrying it.
func (e *Engine) IssueUserToken(ctx context.Context, userID string) (string, error) {
	perms, err := e.store.GetUserPermissions(ctx, userID)
	if err != nil {
		return "", err
	}

	scopeSet := scopes.FromPermissions(perms)

	token, err := scopes.IssueToken(e.signingKey, userID, scopeSet, e.cfg.TokenLifetime, e.clock())
	if err != nil {
		return "", fmt.Errorf("%w: failed to issue token: %s", types.ErrInternal, err)
	}

	return token, nil
}

// ReadProviderInput identifies a provider read.
type ReadProviderInput struct {
	Compact    string
	ProviderID string

	// Detail bounds how much update history is assembled.
	Detail dynamodb.Detail

	// ConsistentRead requests a fully up-to-date snapshot of the partition,
	// as read-after-write callers need. Defaults to eventually consistent.
	ConsistentRead bool
}

// GetProvider reads one provider's aggregated details, redacted to what the
// token's scope set permits. The caller needs readGeneral for the compact at
// some level; private fields survive only with the matching readPrivate
// scope.
func (e *Engine) GetProvider(ctx context.Context, accessToken string, in ReadProviderInput) (*types.ProviderDetails, error) {
	scopeSet, err := e.authorize(accessToken, in.Compact, scopes.ActionReadGeneral)
	if err != nil {
		return nil, err
	}

	details, err := e.store.GetProvider(ctx, dynamodb.GetProviderInput{
		Compact:        in.Compact,
		ProviderID:     in.ProviderID,
		Detail:         in.Detail,
		ConsistentRead: in.ConsistentRead,
	})
	if err != nil {
		return nil, err
	}

	return sanitize.Sanitize(details, scopeSet), nil
}

// PurchasePrivilegesInput describes one scope-checked privilege purchase.
type PurchasePrivilegesInput struct {
	Compact              string
	ProviderID           string
	Privileges           []types.Privilege
	CompactTransactionID string
}

// PurchasePrivileges writes the purchased privilege grants and publishes one
// privilege.purchase event per grant. The write itself is all-or-nothing via
// compensating deletes. A publication failure after the write committed
// surfaces as an internal error so the caller knows delivery is incomplete;
// the grants themselves stay in place.
func (e *Engine) PurchasePrivileges(ctx context.Context, accessToken string, in PurchasePrivilegesInput) error {
	if _, err := e.authorize(accessToken, in.Compact, scopes.ActionAdmin); err != nil {
		return err
	}

	err := e.store.CreateProviderPrivileges(ctx, dynamodb.CreatePrivilegesInput{
		Compact:              in.Compact,
		ProviderID:           in.ProviderID,
		Privileges:           in.Privileges,
		CompactTransactionID: in.CompactTransactionID,
	})
	if err != nil {
		return err
	}

	writer, err := e.newWriter()
	if err != nil {
		return fmt.Errorf("%w: privileges written but event writer could not open: %s", types.ErrInternal, err)
	}

	now := e.clock()
	for _, privilege := range in.Privileges {
		event := types.DomainEvent{
			Type:         types.EventTypePrivilegePurchase,
			Compact:      in.Compact,
			Jurisdiction: privilege.Jurisdiction,
			ProviderID:   in.ProviderID,
			LicenseType:  privilege.LicenseType,
			EventTime:    now,
		}

		if err := writer.Add(ctx, event); err != nil {
			e.m.IncrementEventOutcome(string(event.Type), "failed")
			return fmt.Errorf("%w: privileges written but purchase events not published: %s", types.ErrInternal, err)
		}
	}

	if err := writer.Close(ctx); err != nil {
		return fmt.Errorf("%w: privileges written but purchase events not flushed: %s", types.ErrInternal, err)
	}

	if n := writer.FailedEntryCount(); n > 0 {
		e.m.IncrementEventOutcome(string(types.EventTypePrivilegePurchase), "failed")
		return fmt.Errorf("%w: privileges written but %d purchase event(s) rejected by the bus", types.ErrInternal, n)
	}

	for range in.Privileges {
		e.m.IncrementEventOutcome(string(types.EventTypePrivilegePurchase), "accepted")
	}

	return nil
}

func (e *Engine) authorize(accessToken, compact, action string) (scopes.Set, error) {
	_, scopeSet, err := scopes.ParseToken(e.signingKey, accessToken)
	if err != nil {
		return nil, err
	}

	if !hasCompactAction(scopeSet, compact, action) {
		return nil, fmt.Errorf("%w: missing %s for compact %s", types.ErrUnauthorized, action, compact)
	}

	return scopeSet, nil
}

// hasCompactAction reports whether the set grants the action for the compact
// at the compact level or in any jurisdiction.
func hasCompactAction(scopeSet scopes.Set, compact, action string) bool {
	if scopeSet.Contains(scopes.CompactScope(compact, action)) {
		return true
	}

	for scope := range scopeSet {
		scopeCompact, _, scopeAction, ok := scopes.Parse(scope)
		if ok && scopeCompact == compact && scopeAction == action {
			return true
		}
	}

	return false
}
