// Package service implements the dispatcher's use cases on top of the store,
// the workflow client and the module policy.
package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/xiaot623/flowdispatch/internal/adapter/workflow"
	"github.com/xiaot623/flowdispatch/internal/config"
	"github.com/xiaot623/flowdispatch/internal/contract"
	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/policy"
	"github.com/xiaot623/flowdispatch/internal/repository"
	"github.com/xiaot623/flowdispatch/internal/result"
	"github.com/xiaot623/flowdispatch/internal/trigger"
)

// Publisher delivers task events to live subscribers of a user.
type Publisher interface {
	Publish(userID string, v any) error
}

type moduleRules struct {
	timeouts workflow.Timeouts
	resolver *trigger.Resolver
}

type Service struct {
	store        repository.Store
	workflow     *workflow.Client
	policyEngine *policy.Engine
	publisher    Publisher
	limiter      *rate.Limiter
	config       *config.Config
	logger       zerolog.Logger

	rules    atomic.Pointer[moduleRules]
	invokeOp contract.Operation[InvokeRequest, *domain.WorkflowOutcome]
	now      func() time.Time
}

// New creates the service. policyEngine and publisher may be nil.
func New(store repository.Store, workflowClient *workflow.Client, policyEngine *policy.Engine, publisher Publisher, cfg *config.Config, logger zerolog.Logger) *Service {
	rps := cfg.WebhookRatePerSec
	if rps <= 0 {
		rps = 1
	}
	s := &Service{
		store:        store,
		workflow:     workflowClient,
		policyEngine: policyEngine,
		publisher:    publisher,
		limiter:      rate.NewLimiter(rate.Limit(rps), rps),
		config:       cfg,
		logger:       logger.With().Str("component", "service").Logger(),
		now:          time.Now,
	}
	s.SetModulePolicy(config.DefaultModulePolicy())
	s.invokeOp = contract.Operation[InvokeRequest, *domain.WorkflowOutcome]{
		Name:    "invokeWorkflow",
		Input:   contract.Struct[InvokeRequest](),
		Output:  contract.Func[*domain.WorkflowOutcome](validOutcome),
		Handler: s.invoke,
	}
	return s
}

// SetModulePolicy swaps the timeout table and chat allow-list used by new
// invocations.
func (s *Service) SetModulePolicy(p *config.ModulePolicy) {
	s.rules.Store(&moduleRules{
		timeouts: workflow.Timeouts{Default: p.DefaultTimeout, PerModule: p.Timeouts},
		resolver: trigger.NewResolver(p.ChatModules),
	})
}

// CatalogReport summarizes a catalog sync.
type CatalogReport struct {
	Upserted     int      `json:"upserted"`
	UnknownSlugs []string `json:"unknown_slugs"`
}

// SyncModuleCatalog upserts the policy's catalog entries and reports policy
// slugs that are absent from the catalog.
func (s *Service) SyncModuleCatalog(ctx context.Context, p *config.ModulePolicy) result.Result[CatalogReport] {
	now := s.now()
	for _, m := range p.Modules {
		module := &domain.ModuleDescriptor{
			ID:          m.ID,
			Name:        m.Name,
			Slug:        m.Slug,
			Endpoint:    m.Endpoint,
			TriggerType: domain.TriggerType(m.TriggerType),
			PremiumOnly: m.PremiumOnly,
			CreatedAt:   now,
		}
		if err := s.store.UpsertModule(ctx, module); err != nil {
			return result.Failf[CatalogReport](result.KindUnknown, "failed to upsert module %s: %v", m.Slug, err)
		}
	}

	modules, err := s.store.ListModules(ctx)
	if err != nil {
		return result.Failf[CatalogReport](result.KindUnknown, "failed to list modules: %v", err)
	}
	catalog := make(map[string]bool, len(modules))
	for _, m := range modules {
		catalog[m.Slug] = true
	}

	report := CatalogReport{Upserted: len(p.Modules), UnknownSlugs: p.UnknownSlugs(catalog)}
	for _, slug := range report.UnknownSlugs {
		s.logger.Warn().Str("module_slug", slug).Msg("module policy references a slug missing from the catalog")
	}
	return result.Ok(report)
}

// ListModules lists the module catalog.
func (s *Service) ListModules(ctx context.Context) result.Result[[]domain.ModuleDescriptor] {
	modules, err := s.store.ListModules(ctx)
	if err != nil {
		return result.Failf[[]domain.ModuleDescriptor](result.KindUnknown, "failed to list modules: %v", err)
	}
	return result.Ok(modules)
}

// GetModuleBySlug looks a module up by slug.
func (s *Service) GetModuleBySlug(ctx context.Context, slug string) result.Result[*domain.ModuleDescriptor] {
	module, err := s.store.GetModuleBySlug(ctx, slug)
	if err != nil {
		return result.Failf[*domain.ModuleDescriptor](result.KindUnknown, "failed to get module: %v", err)
	}
	if module == nil {
		return result.Failf[*domain.ModuleDescriptor](result.KindModuleNotFound, "module %s not found", slug)
	}
	return result.Ok(module)
}

// UpsertProfile stores the identity record of a user.
func (s *Service) UpsertProfile(ctx context.Context, profile domain.Profile) result.Result[*domain.Profile] {
	now := s.now()
	existing, err := s.store.GetProfile(ctx, profile.UserID)
	if err != nil {
		return result.Failf[*domain.Profile](result.KindUnknown, "failed to get profile: %v", err)
	}
	profile.CreatedAt = now
	if existing != nil {
		profile.CreatedAt = existing.CreatedAt
	}
	profile.UpdatedAt = now
	if err := s.store.UpsertProfile(ctx, &profile); err != nil {
		return result.Failf[*domain.Profile](result.KindUnknown, "failed to upsert profile: %v", err)
	}
	return result.Ok(&profile)
}
