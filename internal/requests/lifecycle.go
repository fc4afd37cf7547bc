// Package requests drives a blood request from submission through dispatch to
// its final status.
package requests

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nabd/blood-bot/internal/analysis"
	"github.com/nabd/blood-bot/internal/db"
	"github.com/nabd/blood-bot/internal/deeplink"
	"github.com/nabd/blood-bot/internal/message"
	"github.com/nabd/blood-bot/internal/models"
	"github.com/nabd/blood-bot/internal/notify"
)

// DefaultDepartment is used for hospital requests that name no department
const DefaultDepartment = "Main Store"

const maxIDDraws = 5

var (
	contactPattern = regexp.MustCompile(`^07\d{9}$`)

	// ErrAmbiguousID is returned when an id prefix matches more than one request
	ErrAmbiguousID = errors.New("id prefix matches several requests")
)

// Store is the persistence the lifecycle needs.
type Store interface {
	List(ctx context.Context) []models.BloodRequest
	Get(ctx context.Context, id string) (models.BloodRequest, error)
	Save(ctx context.Context, r models.BloodRequest) error
	Update(ctx context.Context, r models.BloodRequest) error
	GetConfig(ctx context.Context) models.AppConfig
	SaveConfig(ctx context.Context, cfg models.AppConfig) error
}

type Composer interface {
	Compose(r models.BloodRequest) string
}

type Dispatcher interface {
	Send(ctx context.Context, text string, cfg models.AppConfig) notify.Result
}

// ValidationError reports a rejected submission field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

type Options struct {
	Region           string
	EnforceHospitals bool

	// overridable in tests
	Now   func() time.Time
	NewID func() string
}

// CreatePayload is a submission from the public form.
// For hospitals PatientName is the requesting department.
type CreatePayload struct {
	Source        models.RequestSource   `json:"source"`
	PatientName   string                 `json:"patientName"`
	HospitalName  string                 `json:"hospitalName"`
	ContactNumber string                 `json:"contactNumber"`
	Description   string                 `json:"description"`
	BloodType     models.BloodType       `json:"bloodType"`
	Details       []models.RequestDetail `json:"requestDetails"`

	// Opener receives the WhatsApp link when a number is configured
	Opener deeplink.Opener `json:"-"`
}

type CreateResult struct {
	Request models.BloodRequest `json:"request"`
	// Dispatch is nil when no bot is configured
	Dispatch *notify.Result `json:"-"`
	DeepLink string         `json:"deepLink,omitempty"`
}

type Lifecycle struct {
	store      Store
	analyzer   analysis.Analyzer
	composer   Composer
	dispatcher Dispatcher
	logger     *zap.Logger
	opts       Options
}

func New(store Store, analyzer analysis.Analyzer, composer Composer, dispatcher Dispatcher, logger *zap.Logger, opts Options) *Lifecycle {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Lifecycle{
		store:      store,
		analyzer:   analyzer,
		composer:   composer,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts,
	}
}

// Create validates, analyzes, optionally dispatches and then persists a new
// request. The stored status always reflects the dispatch outcome.
func (l *Lifecycle) Create(ctx context.Context, p CreatePayload) (CreateResult, error) {
	details, err := validate(p, l.opts.EnforceHospitals)
	if err != nil {
		return CreateResult{}, err
	}

	cfg := l.store.GetConfig(ctx)

	var res *deeplink.Reservation
	if cfg.WhatsAppNumber != "" && p.Opener != nil {
		res, err = deeplink.Reserve(ctx, p.Opener)
		if err != nil {
			l.logger.Warn("deep link surface unavailable", zap.Error(err))
		}
	}
	defer res.Abort()

	req := l.build(ctx, p, details)

	input := analysis.Input{
		Description:   req.Description,
		BloodType:     req.BloodType,
		Hospital:      req.HospitalName,
		Region:        req.Region,
		Source:        req.Source,
		TotalQuantity: req.TotalQuantity(),
		Details:       req.Details,
	}
	if input.Description == "" && req.Source == models.SourceHospital {
		input.Description = "Acute stock shortage in department " + req.PatientName
	}
	a := l.analyzer.Analyze(ctx, input)
	req.Analysis = &a

	result := CreateResult{}
	if cfg.CanDispatch() {
		sent := l.dispatcher.Send(ctx, l.composer.Compose(req), cfg)
		result.Dispatch = &sent
		if sent.Success {
			if req.Status, err = models.Transition(req.Status, models.ActionDispatched); err != nil {
				return CreateResult{}, err
			}
		}
	}

	if err := l.store.Save(ctx, req); err != nil {
		return CreateResult{}, errors.Wrap(err, "save request")
	}
	result.Request = req

	l.logger.Info("request created",
		zap.String("id", req.ID),
		zap.String("source", string(req.Source)),
		zap.String("status", string(req.Status)),
		zap.String("urgency", string(a.Urgency)))

	if res != nil {
		link := message.WhatsAppURL(cfg.WhatsAppNumber, l.composer.Compose(req))
		if err := res.Commit(link); err != nil {
			l.logger.Warn("deep link not delivered", zap.String("id", req.ID), zap.Error(err))
		} else {
			result.DeepLink = link
		}
	}

	return result, nil
}

func (l *Lifecycle) build(ctx context.Context, p CreatePayload, details []models.RequestDetail) models.BloodRequest {
	req := models.BloodRequest{
		ID:            l.uniqueID(ctx),
		PatientName:   strings.TrimSpace(p.PatientName),
		HospitalName:  strings.TrimSpace(p.HospitalName),
		Region:        l.opts.Region,
		BloodType:     details[0].BloodType,
		ContactNumber: strings.TrimSpace(p.ContactNumber),
		Description:   strings.TrimSpace(p.Description),
		Source:        p.Source,
		Status:        models.StatusPending,
		CreatedAt:     l.opts.Now(),
	}

	if req.Source == models.SourceHospital {
		if req.PatientName == "" {
			req.PatientName = DefaultDepartment
		}
		req.Details = details
		for _, d := range details {
			req.Quantity += d.Quantity
		}
	} else {
		req.Quantity = 1
	}
	return req
}

func (l *Lifecycle) uniqueID(ctx context.Context) string {
	taken := make(map[string]struct{})
	for _, r := range l.store.List(ctx) {
		taken[r.ID] = struct{}{}
	}

	id := l.opts.NewID()
	for i := 1; i < maxIDDraws; i++ {
		if _, ok := taken[id]; !ok {
			break
		}
		l.logger.Warn("request id collision, redrawing", zap.String("id", id))
		id = l.opts.NewID()
	}
	return id
}

func validate(p CreatePayload, enforceHospitals bool) ([]models.RequestDetail, error) {
	if p.Source != models.SourceIndividual && p.Source != models.SourceHospital {
		return nil, &ValidationError{Field: "source", Message: "must be Individual or Hospital"}
	}
	if !contactPattern.MatchString(strings.TrimSpace(p.ContactNumber)) {
		return nil, &ValidationError{Field: "contactNumber", Message: "must be 11 digits starting with 07"}
	}

	hospital := strings.TrimSpace(p.HospitalName)
	if hospital == "" {
		return nil, &ValidationError{Field: "hospitalName", Message: "select a hospital"}
	}
	if enforceHospitals && !models.IsKnownHospital(hospital) {
		return nil, &ValidationError{Field: "hospitalName", Message: "not a hospital of this region"}
	}

	if p.Source == models.SourceIndividual && strings.TrimSpace(p.PatientName) == "" {
		return nil, &ValidationError{Field: "patientName", Message: "required"}
	}

	details := p.Details
	if p.Source == models.SourceIndividual || len(details) == 0 {
		if p.BloodType != "" {
			details = []models.RequestDetail{{BloodType: p.BloodType, Quantity: 1}}
		}
	}
	if len(details) == 0 {
		return nil, &ValidationError{Field: "requestDetails", Message: "at least one blood type is required"}
	}
	for _, d := range details {
		if !d.BloodType.IsValid() {
			return nil, &ValidationError{Field: "bloodType", Message: fmt.Sprintf("unknown blood type %q", d.BloodType)}
		}
		if d.Quantity < 1 {
			return nil, &ValidationError{Field: "quantity", Message: "must be at least 1"}
		}
	}
	return details, nil
}

// MarkSent dispatches a stored request. On failure the request keeps its
// status and the dispatcher error is returned.
func (l *Lifecycle) MarkSent(ctx context.Context, r models.BloodRequest) (models.BloodRequest, error) {
	next, err := models.Transition(r.Status, models.ActionDispatched)
	if err != nil {
		return r, err
	}

	cfg := l.store.GetConfig(ctx)
	if !cfg.CanDispatch() {
		return r, notify.ErrNotConfigured
	}

	sent := l.dispatcher.Send(ctx, l.composer.Compose(r), cfg)
	if !sent.Success {
		return r, sent.Err
	}

	r.Status = next
	if err := l.store.Update(ctx, r); err != nil {
		return r, errors.Wrap(err, "update request")
	}
	l.logger.Info("request sent", zap.String("id", r.ID), zap.Int("attempts", sent.Attempts))
	return r, nil
}

func (l *Lifecycle) MarkFulfilled(ctx context.Context, r models.BloodRequest) (models.BloodRequest, error) {
	return l.apply(ctx, r, models.ActionFulfill)
}

func (l *Lifecycle) Cancel(ctx context.Context, r models.BloodRequest) (models.BloodRequest, error) {
	return l.apply(ctx, r, models.ActionCancel)
}

func (l *Lifecycle) apply(ctx context.Context, r models.BloodRequest, action models.Action) (models.BloodRequest, error) {
	next, err := models.Transition(r.Status, action)
	if err != nil {
		return r, err
	}

	r.Status = next
	if err := l.store.Update(ctx, r); err != nil {
		return r, errors.Wrap(err, "update request")
	}
	l.logger.Info("request status changed",
		zap.String("id", r.ID),
		zap.String("action", string(action)),
		zap.String("status", string(next)))
	return r, nil
}

// Actions lists the operator actions to offer for a status.
func (l *Lifecycle) Actions(s models.RequestStatus) []models.Action {
	return models.OfferedActions(s)
}

// ShareLink returns a WhatsApp link carrying the request's message.
func (l *Lifecycle) ShareLink(ctx context.Context, r models.BloodRequest) string {
	cfg := l.store.GetConfig(ctx)
	return message.WhatsAppURL(cfg.WhatsAppNumber, l.composer.Compose(r))
}

func (l *Lifecycle) List(ctx context.Context) []models.BloodRequest {
	return l.store.List(ctx)
}

func (l *Lifecycle) Get(ctx context.Context, id string) (models.BloodRequest, error) {
	return l.store.Get(ctx, id)
}

// Resolve finds a request by full id or unique id prefix.
func (l *Lifecycle) Resolve(ctx context.Context, idOrPrefix string) (models.BloodRequest, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return models.BloodRequest{}, db.ErrNotFound
	}

	var match []models.BloodRequest
	for _, r := range l.store.List(ctx) {
		if r.ID == idOrPrefix {
			return r, nil
		}
		if strings.HasPrefix(r.ID, idOrPrefix) {
			match = append(match, r)
		}
	}

	switch len(match) {
	case 0:
		return models.BloodRequest{}, db.ErrNotFound
	case 1:
		return match[0], nil
	default:
		return models.BloodRequest{}, errors.Wrapf(ErrAmbiguousID, "%q", idOrPrefix)
	}
}

func (l *Lifecycle) Config(ctx context.Context) models.AppConfig {
	return l.store.GetConfig(ctx)
}

func (l *Lifecycle) SaveConfig(ctx context.Context, cfg models.AppConfig) error {
	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	cfg.ChatID = strings.TrimSpace(cfg.ChatID)
	cfg.WhatsAppNumber = strings.TrimSpace(cfg.WhatsAppNumber)
	if err := l.store.SaveConfig(ctx, cfg); err != nil {
		return errors.Wrap(err, "save config")
	}
	return nil
}
