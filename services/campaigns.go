package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"rpg-portal/logger"
	"rpg-portal/metrics"
	"rpg-portal/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CampaignInput is the editable part of a campaign.
type CampaignInput struct {
	Name         string   `json:"name" validate:"required,max=120"`
	System       string   `json:"system" validate:"max=80"`
	Description  string   `json:"description" validate:"max=5000"`
	Day          string   `json:"day" validate:"max=40"`
	Time         string   `json:"time" validate:"max=40"`
	Duration     string   `json:"duration" validate:"max=40"`
	Vagas        int      `json:"vagas" validate:"gte=0,lte=100"`
	Plan         string   `json:"plan" validate:"max=32"`
	Requirements string   `json:"requirements" validate:"max=5000"`
	ImageURL     string   `json:"image_url" validate:"omitempty,url"`
	Hidden       []string `json:"hidden"`
}

func (in *CampaignInput) validate() error {
	in.Name = NormalizeName(in.Name)
	in.Plan = NormalizePlan(in.Plan)
	if err := Validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if in.Plan != "" && !IsValidPlan(in.Plan) {
		return fmt.Errorf("%w: %s", ErrUnknownPlan, in.Plan)
	}
	for _, h := range in.Hidden {
		if !isHideable(h) {
			return fmt.Errorf("%w: field %q cannot be hidden", ErrValidation, h)
		}
	}
	return nil
}

func isHideable(field string) bool {
	for _, f := range models.HideableFields {
		if f == field {
			return true
		}
	}
	return false
}

// CampaignFilter narrows and orders the catalog listing.
type CampaignFilter struct {
	Search    string `query:"q"`
	System    string `query:"system"`
	Plan      string `query:"plan"`
	FreeSeats bool   `query:"free"`
	CanJoin   bool   `query:"can_join"`
	Sort      string `query:"sort"` // name (default), day, free_seats
}

// ClaimGuard rejects a second claim from the same user while the first
// is still running. The release func is safe to call more than once.
type ClaimGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewClaimGuard() *ClaimGuard {
	return &ClaimGuard{inFlight: make(map[string]struct{})}
}

func (g *ClaimGuard) Acquire(key string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[key]; busy {
		return func() {}, false
	}
	g.inFlight[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, key)
			g.mu.Unlock()
		})
	}, true
}

type CampaignService struct {
	DB     *gorm.DB
	Events Broadcaster
	guard  *ClaimGuard
	now    func() time.Time
}

func NewCampaignService(db *gorm.DB, events Broadcaster) *CampaignService {
	if events == nil {
		events = NewLocalBroadcaster()
	}
	return &CampaignService{DB: db, Events: events, guard: NewClaimGuard(), now: time.Now}
}

func (s *CampaignService) Create(ctx context.Context, in CampaignInput, createdBy string) (*models.Campaign, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)
	slugValue, err := s.uniqueSlug(db, in.Name, "")
	if err != nil {
		return nil, err
	}
	c := &models.Campaign{
		ID:        uuid.NewString(),
		Slug:      slugValue,
		CreatedBy: NormalizeEmail(createdBy),
	}
	applyInput(c, in)
	if err := db.Create(c).Error; err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	c.Jogadores = []models.SeatClaim{}
	logger.Info().Str("campaign_id", c.ID).Str("slug", c.Slug).Msg("✅ Campaign created")
	s.publish(ctx, CampaignCreated, c.ID, c.Vagas)
	return c, nil
}

func (s *CampaignService) Update(ctx context.Context, id string, in CampaignInput) (*models.Campaign, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	applyInput(c, in)
	if err := s.DB.WithContext(ctx).Omit("Jogadores").Save(c).Error; err != nil {
		return nil, fmt.Errorf("update campaign: %w", err)
	}
	s.publish(ctx, CampaignUpdated, c.ID, c.Vagas-len(c.Jogadores))
	return c, nil
}

// SetImage stores the public URL of an uploaded campaign image.
func (s *CampaignService) SetImage(ctx context.Context, id, url string) (*models.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Model(&models.Campaign{}).Where("id = ?", c.ID).
		Update("image_url", url).Error; err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	c.ImageURL = url
	s.publish(ctx, CampaignUpdated, c.ID, c.Vagas-len(c.Jogadores))
	return c, nil
}

func (s *CampaignService) Delete(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("campaign_id = ?", c.ID).Delete(&models.SeatClaim{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Campaign{}, "id = ?", c.ID).Error
	})
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	logger.Info().Str("campaign_id", c.ID).Msg("🗑️ Campaign deleted")
	s.publish(ctx, CampaignDeleted, c.ID, 0)
	return nil
}

// Get loads a campaign by id or slug with its seat list in order.
func (s *CampaignService) Get(ctx context.Context, idOrSlug string) (*models.Campaign, error) {
	var c models.Campaign
	err := s.DB.WithContext(ctx).
		Preload("Jogadores", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC").Order("claimed_at ASC")
		}).
		Where("id = ? OR slug = ?", idOrSlug, idOrSlug).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: campaign %s", ErrNotFound, idOrSlug)
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	return &c, nil
}

// List returns the catalog as seen by sess (nil for anonymous callers).
func (s *CampaignService) List(ctx context.Context, f CampaignFilter, sess *Session) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	q := s.DB.WithContext(ctx).
		Preload("Jogadores", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC").Order("claimed_at ASC")
		})
	if f.System != "" {
		q = q.Where("LOWER(system) = ?", strings.ToLower(strings.TrimSpace(f.System)))
	}
	if p := NormalizePlan(f.Plan); p != "" {
		q = q.Where("plan = ?", p)
	}
	if err := q.Order("name ASC").Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}

	search := foldText(f.Search)
	out := make([]models.Campaign, 0, len(campaigns))
	for i := range campaigns {
		c := &campaigns[i]
		if search != "" && !strings.Contains(foldText(c.Name), search) {
			continue
		}
		ViewCampaign(c, sess)
		if f.FreeSeats && c.FreeSeats <= 0 {
			continue
		}
		if f.CanJoin && !c.CanJoin {
			continue
		}
		out = append(out, *c)
	}
	sortCampaigns(out, f.Sort)
	return out, nil
}

// ViewCampaign fills the calculated fields for sess and, unless sess is
// an administrator, blanks hidden fields and other players' contact data.
func ViewCampaign(c *models.Campaign, sess *Session) {
	c.FreeSeats = c.Vagas - len(c.Jogadores)
	if c.FreeSeats < 0 {
		c.FreeSeats = 0
	}

	email := sess.Email()
	listed := false
	for _, j := range c.Jogadores {
		if j.Email == email {
			listed = true
			break
		}
	}
	c.CanJoin = sess != nil && !listed && c.FreeSeats > 0 && DecideSeatAccess(sess.Permissions, c.Plan).Allowed()

	if sess != nil && sess.Permissions.IsAdmin {
		return
	}
	for i := range c.Jogadores {
		if c.Jogadores[i].Email != email {
			c.Jogadores[i].Email = ""
			c.Jogadores[i].UserID = ""
		}
		c.Jogadores[i].Note = ""
	}
	for _, field := range c.Hidden {
		switch field {
		case "system":
			c.System = ""
		case "description":
			c.Description = ""
		case "day":
			c.Day = ""
		case "time":
			c.Time = ""
		case "duration":
			c.Duration = ""
		case "vagas":
			c.Vagas = 0
			c.FreeSeats = 0
		case "plan":
			c.Plan = ""
		case "requirements":
			c.Requirements = ""
		case "image_url":
			c.ImageURL = ""
		case "jogadores":
			c.Jogadores = nil
		}
	}
	c.Hidden = nil
}

// ClaimSeat adds the caller to the campaign's player list. The campaign
// row is locked for the duration of the check-and-insert, so capacity and
// the one-entry-per-email rule hold across concurrent sessions.
func (s *CampaignService) ClaimSeat(ctx context.Context, campaignID string, sess *Session) (*models.SeatClaim, error) {
	if sess == nil || sess.User == nil {
		return nil, ErrUnauthenticated
	}
	release, ok := s.guard.Acquire(sess.User.ID)
	if !ok {
		metrics.SeatClaims.WithLabelValues("in_flight").Inc()
		return nil, ErrClaimInFlight
	}
	defer release()

	email := sess.Email()
	var claim models.SeatClaim
	var free int
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Campaign
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? OR slug = ?", campaignID, campaignID).
			First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: campaign %s", ErrNotFound, campaignID)
			}
			return err
		}

		if decision := DecideSeatAccess(sess.Permissions, c.Plan); !decision.Allowed() {
			return fmt.Errorf("%w: %s", ErrSeatDenied, decision)
		}

		var claims []models.SeatClaim
		if err := tx.Where("campaign_id = ?", c.ID).Order("position ASC").Find(&claims).Error; err != nil {
			return err
		}
		for _, j := range claims {
			if j.Email == email {
				return ErrAlreadyClaimed
			}
		}
		if len(claims) >= c.Vagas {
			return ErrCampaignFull
		}

		position := 0
		if n := len(claims); n > 0 {
			position = claims[n-1].Position + 1
		}
		claim = models.SeatClaim{
			ID:          uuid.NewString(),
			CampaignID:  c.ID,
			UserID:      sess.User.ID,
			Email:       email,
			Discord:     sess.User.Discord,
			Plan:        sess.Permissions.Plan,
			DisplayName: sess.User.DisplayName,
			Position:    position,
			ClaimedAt:   s.now(),
		}
		if err := tx.Create(&claim).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyClaimed
			}
			return err
		}
		free = c.Vagas - len(claims) - 1
		return nil
	})
	if err != nil {
		metrics.SeatClaims.WithLabelValues(claimResult(err)).Inc()
		logger.Warn().Err(err).Str("campaign_id", campaignID).Str("user_id", sess.User.ID).Msg("⚠️ Seat claim rejected")
		return nil, err
	}

	metrics.SeatClaims.WithLabelValues("claimed").Inc()
	logger.Info().Str("campaign_id", claim.CampaignID).Str("user_id", claim.UserID).Int("free", free).Msg("🎲 Seat claimed")
	s.publish(ctx, CampaignSeatsChanged, claim.CampaignID, free)
	return &claim, nil
}

func claimResult(err error) string {
	switch {
	case errors.Is(err, ErrSeatDenied):
		return "denied"
	case errors.Is(err, ErrCampaignFull):
		return "full"
	case errors.Is(err, ErrAlreadyClaimed):
		return "duplicate"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "error"
}

// LeaveSeat removes the caller from the campaign.
func (s *CampaignService) LeaveSeat(ctx context.Context, campaignID string, sess *Session) error {
	if sess == nil || sess.User == nil {
		return ErrUnauthenticated
	}
	return s.RemovePlayer(ctx, campaignID, sess.Email())
}

// RemovePlayer drops the claim held by email.
func (s *CampaignService) RemovePlayer(ctx context.Context, campaignID, email string) error {
	c, err := s.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	res := s.DB.WithContext(ctx).
		Where("campaign_id = ? AND email = ?", c.ID, NormalizeEmail(email)).
		Delete(&models.SeatClaim{})
	if res.Error != nil {
		return fmt.Errorf("remove player: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimed
	}
	free := c.Vagas - len(c.Jogadores) + 1
	logger.Info().Str("campaign_id", c.ID).Str("email", NormalizeEmail(email)).Msg("👋 Player removed")
	s.publish(ctx, CampaignSeatsChanged, c.ID, free)
	return nil
}

// AnnotateClaim sets the admin note on a player's claim.
func (s *CampaignService) AnnotateClaim(ctx context.Context, campaignID, email, note string) (*models.SeatClaim, error) {
	c, err := s.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	var claim models.SeatClaim
	err = s.DB.WithContext(ctx).
		Where("campaign_id = ? AND email = ?", c.ID, NormalizeEmail(email)).
		First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotClaimed
	}
	if err != nil {
		return nil, err
	}
	claim.Note = strings.TrimSpace(note)
	if err := s.DB.WithContext(ctx).Model(&claim).Update("note", claim.Note).Error; err != nil {
		return nil, fmt.Errorf("annotate claim: %w", err)
	}
	return &claim, nil
}

// ClaimsForUser lists the campaigns a user currently holds seats on.
func (s *CampaignService) ClaimsForUser(ctx context.Context, userID string) ([]models.SeatClaim, error) {
	var claims []models.SeatClaim
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("claimed_at ASC").Find(&claims).Error
	return claims, err
}

func (s *CampaignService) publish(ctx context.Context, t CampaignEventType, id string, free int) {
	if free < 0 {
		free = 0
	}
	ev := CampaignEvent{Type: t, CampaignID: id, FreeSeats: free, At: s.now()}
	if err := s.Events.Publish(ctx, ev); err != nil {
		logger.Warn().Err(err).Str("campaign_id", id).Msg("⚠️ Failed to publish campaign event")
	}
}

func (s *CampaignService) uniqueSlug(db *gorm.DB, name, exceptID string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "campanha"
	}
	candidate := base
	for i := 2; ; i++ {
		var count int64
		q := db.Model(&models.Campaign{}).Where("slug = ?", candidate)
		if exceptID != "" {
			q = q.Where("id <> ?", exceptID)
		}
		if err := q.Count(&count).Error; err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}

func applyInput(c *models.Campaign, in CampaignInput) {
	c.Name = in.Name
	c.System = strings.TrimSpace(in.System)
	c.Description = strings.TrimSpace(in.Description)
	c.Day = strings.TrimSpace(in.Day)
	c.Time = strings.TrimSpace(in.Time)
	c.Duration = strings.TrimSpace(in.Duration)
	c.Vagas = in.Vagas
	c.Plan = in.Plan
	c.Requirements = strings.TrimSpace(in.Requirements)
	c.ImageURL = strings.TrimSpace(in.ImageURL)
	c.Hidden = append([]string(nil), in.Hidden...)
}

var weekdayOrder = map[string]int{
	"domingo": 0,
	"segunda": 1,
	"terca":   2,
	"quarta":  3,
	"quinta":  4,
	"sexta":   5,
	"sabado":  6,
}

func dayRank(day string) int {
	d := foldText(day)
	for name, rank := range weekdayOrder {
		if strings.HasPrefix(d, name) {
			return rank
		}
	}
	return len(weekdayOrder)
}

func sortCampaigns(cs []models.Campaign, by string) {
	switch by {
	case "day":
		sort.SliceStable(cs, func(i, j int) bool {
			ri, rj := dayRank(cs[i].Day), dayRank(cs[j].Day)
			if ri != rj {
				return ri < rj
			}
			return cs[i].Time < cs[j].Time
		})
	case "free_seats":
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].FreeSeats > cs[j].FreeSeats })
	default:
		sort.SliceStable(cs, func(i, j int) bool { return foldText(cs[i].Name) < foldText(cs[j].Name) })
	}
}

// foldText lower-cases and strips accents for comparisons.
func foldText(s string) string {
	return strings.ToLower(strings.TrimSpace(unidecode.Unidecode(s)))
}
