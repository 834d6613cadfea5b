package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"rpg-portal/logger"
	"rpg-portal/metrics"
	"rpg-portal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventKind is the shape of a recorded event value.
type EventKind string

const (
	EventFlag    EventKind = "flag"    // happened at least once
	EventCounter EventKind = "counter" // incremented
	EventSet     EventKind = "set"     // distinct string values
)

// EventSpec declares one event name. Client events may be reported by
// the front end; the rest are recorded by the server itself.
type EventSpec struct {
	Kind   EventKind `json:"kind"`
	Client bool      `json:"client"`
}

// EventSchema is the fixed list of events the evaluator reads. Writes of
// any other name, or of the wrong kind, are rejected.
var EventSchema = map[string]EventSpec{
	"first_login":       {Kind: EventFlag},
	"profile_saved":     {Kind: EventFlag},
	"address_saved":     {Kind: EventFlag},
	"seat_claimed":      {Kind: EventSet},
	"message_read":      {Kind: EventCounter},
	"session_attended":  {Kind: EventCounter, Client: true},
	"character_created": {Kind: EventCounter, Client: true},
	"dice_rolled":       {Kind: EventCounter, Client: true},
	"rules_read":        {Kind: EventFlag, Client: true},
	"systems_played":    {Kind: EventSet, Client: true},
}

// EventInput is one write to a user's event log.
type EventInput struct {
	Name   string `json:"name" validate:"required,max=64"`
	Value  string `json:"value,omitempty" validate:"max=128"`
	Amount int64  `json:"amount,omitempty" validate:"gte=0,lte=1000"`
}

// ApplyEvent validates in against the schema and applies it to log.
func ApplyEvent(log models.EventLog, in EventInput) error {
	def, ok := EventSchema[in.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, in.Name)
	}
	entry := log[in.Name]
	switch def.Kind {
	case EventFlag:
		entry.Count = 1
	case EventCounter:
		n := in.Amount
		if n <= 0 {
			n = 1
		}
		entry.Count += n
	case EventSet:
		v := strings.TrimSpace(in.Value)
		if v == "" {
			return fmt.Errorf("%w: event %s needs a value", ErrValidation, in.Name)
		}
		found := false
		for _, existing := range entry.Values {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			entry.Values = append(entry.Values, v)
		}
		entry.Count = int64(len(entry.Values))
	}
	log[in.Name] = entry
	return nil
}

// DefaultCatalog is the built-in achievement list. Admin overrides are
// merged over it when the catalog is loaded.
var DefaultCatalog = []models.AchievementDefinition{
	{ID: "boas-vindas", Name: "Boas-vindas", Description: "Entrou na comunidade pela primeira vez", Category: "jornada", Rarity: models.RarityComum, XP: 10, Icon: "🚪",
		Condition: models.Condition{Kind: models.ConditionEvent, Event: "first_login"}},
	{ID: "ficha-completa", Name: "Ficha completa", Description: "Preencheu nome, foto, telefone, discord e endereço", Category: "perfil", Rarity: models.RarityRara, XP: 50, Icon: "📜",
		Condition: models.Condition{Kind: models.ConditionProfileComplete}},
	{ID: "taverna", Name: "Na taverna", Description: "Vinculou o Discord ao perfil", Category: "perfil", Rarity: models.RarityComum, XP: 20, Icon: "🍺",
		Condition: models.Condition{Kind: models.ConditionDiscordLinked}},
	{ID: "primeira-mesa", Name: "Primeira mesa", Description: "Reservou vaga em uma campanha", Category: "mesas", Rarity: models.RarityComum, XP: 30, Icon: "🎲",
		Condition: models.Condition{Kind: models.ConditionCampaignsJoined, Threshold: 1}},
	{ID: "andarilho", Name: "Andarilho", Description: "Reservou vaga em cinco campanhas diferentes", Category: "mesas", Rarity: models.RarityEpica, XP: 150, Icon: "🗺️",
		Condition: models.Condition{Kind: models.ConditionCampaignsJoined, Threshold: 5}},
	{ID: "veterano-de-sessao", Name: "Veterano de sessão", Description: "Participou de dez sessões", Category: "mesas", Rarity: models.RarityRara, XP: 100, Icon: "🛡️",
		Condition: models.Condition{Kind: models.ConditionEvent, Event: "session_attended", Threshold: 10}},
	{ID: "criador", Name: "Criador de heróis", Description: "Criou três personagens", Category: "personagens", Rarity: models.RarityRara, XP: 60, Icon: "🧙",
		Condition: models.Condition{Kind: models.ConditionEvent, Event: "character_created", Threshold: 3}},
	{ID: "poliglota", Name: "Poliglota de sistemas", Description: "Jogou três sistemas diferentes", Category: "mesas", Rarity: models.RarityEpica, XP: 120, Icon: "📚",
		Condition: models.Condition{Kind: models.ConditionEvent, Event: "systems_played", Threshold: 3}},
	{ID: "estudioso", Name: "Estudioso", Description: "Leu as regras da casa", Category: "jornada", Rarity: models.RarityComum, XP: 10, Icon: "📖",
		Condition: models.Condition{Kind: models.ConditionEvent, Event: "rules_read"}},
	{ID: "um-ano", Name: "Um ano de aventuras", Description: "Conta com mais de um ano", Category: "jornada", Rarity: models.RarityEpica, XP: 200, Icon: "⏳",
		Condition: models.Condition{Kind: models.ConditionAccountAgeDays, Threshold: 365}},
	{ID: "apoiador", Name: "Apoiador", Description: "Assinou um plano pago", Category: "apoio", Rarity: models.RarityRara, XP: 80, Icon: "💎",
		Condition: models.Condition{Kind: models.ConditionPlanAtLeast, Event: PlanApoiador}},
	{ID: "nobreza", Name: "Nobreza", Description: "Alcançou o plano Lorde", Category: "apoio", Rarity: models.RarityLendaria, XP: 500, Icon: "👑",
		Condition: models.Condition{Kind: models.ConditionPlanAtLeast, Event: PlanLorde}},
}

// ConditionMet evaluates one condition against the user at time now.
func ConditionMet(u *models.User, cond models.Condition, now time.Time) bool {
	threshold := cond.Threshold
	if threshold <= 0 {
		threshold = 1
	}
	switch cond.Kind {
	case models.ConditionEvent:
		return u.Events.Count(cond.Event) >= threshold
	case models.ConditionCampaignsJoined:
		return u.Events.Count("seat_claimed") >= threshold
	case models.ConditionProfileComplete:
		return u.DisplayName != "" && u.PhotoURL != "" && u.Phone != "" && u.Discord != "" && u.Address.Complete()
	case models.ConditionDiscordLinked:
		return strings.TrimSpace(u.Discord) != ""
	case models.ConditionAccountAgeDays:
		if u.CreatedAt.IsZero() {
			return false
		}
		return int64(now.Sub(u.CreatedAt)/(24*time.Hour)) >= threshold
	case models.ConditionPlanAtLeast:
		required := PlanLevel(cond.Event)
		return required >= 0 && PlanLevel(u.Plan) >= required
	}
	return false
}

// EvaluateUser flips on every catalog entry the user now satisfies and
// has not unlocked yet. It mutates u.Achievements and returns the newly
// unlocked definitions; a second call with no changes returns none.
func EvaluateUser(u *models.User, catalog []models.AchievementDefinition, now time.Time) []models.AchievementDefinition {
	if u.Achievements == nil {
		u.Achievements = map[string]models.AchievementState{}
	}
	var unlocked []models.AchievementDefinition
	for _, def := range catalog {
		if u.Achievements[def.ID].Unlocked {
			continue
		}
		if !ConditionMet(u, def.Condition, now) {
			continue
		}
		at := now
		u.Achievements[def.ID] = models.AchievementState{Unlocked: true, UnlockedAt: &at}
		unlocked = append(unlocked, def)
	}
	return unlocked
}

// Progress summarises a user's unlocked achievements.
type Progress struct {
	XP          int64 `json:"xp"`
	Level       int   `json:"level"`
	LevelXP     int64 `json:"level_xp"`      // xp gained inside the current level
	NextLevelXP int64 `json:"next_level_xp"` // xp the current level requires
	Unlocked    int   `json:"unlocked"`
	Total       int   `json:"total"`
}

const baseXPPerLevel = 100

// xpForLevel returns the xp needed to go from level to level+1.
func xpForLevel(level int) int64 {
	if level < 1 {
		level = 1
	}
	return int64(float64(baseXPPerLevel) * math.Pow(float64(level), 1.2))
}

// ComputeProgress totals xp over the catalog and derives the level.
func ComputeProgress(u *models.User, catalog []models.AchievementDefinition) Progress {
	p := Progress{Level: 1, Total: len(catalog)}
	for _, def := range catalog {
		if u.Achievements[def.ID].Unlocked {
			p.XP += def.XP
			p.Unlocked++
		}
	}
	remaining := p.XP
	for remaining >= xpForLevel(p.Level) {
		remaining -= xpForLevel(p.Level)
		p.Level++
	}
	p.LevelXP = remaining
	p.NextLevelXP = xpForLevel(p.Level)
	return p
}

// AchievementView is one catalog entry with the user's state.
type AchievementView struct {
	models.AchievementDefinition
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

type AchievementService struct {
	DB  *gorm.DB
	TTL time.Duration
	now func() time.Time

	mu       sync.RWMutex
	catalog  []models.AchievementDefinition
	loadedAt time.Time
}

func NewAchievementService(db *gorm.DB) *AchievementService {
	return &AchievementService{DB: db, TTL: 5 * time.Minute, now: time.Now}
}

// Catalog returns the static list merged with admin overrides. It is
// cached in memory and reloaded after TTL or after an override write.
func (s *AchievementService) Catalog(ctx context.Context) ([]models.AchievementDefinition, error) {
	s.mu.RLock()
	if s.catalog != nil && s.now().Sub(s.loadedAt) < s.TTL {
		out := s.catalog
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	var overrides []models.AchievementOverride
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&overrides).Error; err != nil {
		return nil, fmt.Errorf("load achievement overrides: %w", err)
	}
	catalog := MergeCatalog(DefaultCatalog, overrides)

	s.mu.Lock()
	s.catalog = catalog
	s.loadedAt = s.now()
	s.mu.Unlock()
	return catalog, nil
}

// MergeCatalog applies overrides over base: deleted rows remove an
// entry, other rows replace or append one.
func MergeCatalog(base []models.AchievementDefinition, overrides []models.AchievementOverride) []models.AchievementDefinition {
	byID := make(map[string]models.AchievementOverride, len(overrides))
	for _, o := range overrides {
		byID[o.ID] = o
	}
	out := make([]models.AchievementDefinition, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(base))
	for _, def := range base {
		seen[def.ID] = true
		if o, ok := byID[def.ID]; ok {
			if o.Deleted {
				continue
			}
			out = append(out, o.Definition())
			continue
		}
		out = append(out, def)
	}
	var extra []models.AchievementDefinition
	for _, o := range overrides {
		if !seen[o.ID] && !o.Deleted {
			extra = append(extra, o.Definition())
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].ID < extra[j].ID })
	return append(out, extra...)
}

func (s *AchievementService) invalidate() {
	s.mu.Lock()
	s.catalog = nil
	s.mu.Unlock()
}

// ListOverrides returns every override row, deleted ones included.
func (s *AchievementService) ListOverrides(ctx context.Context) ([]models.AchievementOverride, error) {
	var rows []models.AchievementOverride
	err := s.DB.WithContext(ctx).Order("id ASC").Find(&rows).Error
	return rows, err
}

// UpsertOverride adds or replaces a catalog entry.
func (s *AchievementService) UpsertOverride(ctx context.Context, o models.AchievementOverride, by string) (*models.AchievementOverride, error) {
	o.ID = strings.TrimSpace(o.ID)
	if o.ID == "" || strings.TrimSpace(o.Name) == "" {
		return nil, fmt.Errorf("%w: id and name are required", ErrValidation)
	}
	if o.Rarity == "" {
		o.Rarity = models.RarityComum
	}
	if o.Rarity.Rank() < 0 {
		return nil, fmt.Errorf("%w: unknown rarity %q", ErrValidation, o.Rarity)
	}
	if err := validateCondition(o.Condition); err != nil {
		return nil, err
	}
	o.Deleted = false
	o.UpdatedBy = NormalizeEmail(by)
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "category", "rarity", "xp", "icon", "condition", "deleted", "updated_by", "updated_at"}),
	}).Create(&o).Error
	if err != nil {
		return nil, fmt.Errorf("save override: %w", err)
	}
	s.invalidate()
	return &o, nil
}

// DeleteOverride soft-deletes a catalog entry, built-in or not.
func (s *AchievementService) DeleteOverride(ctx context.Context, id, by string) error {
	row := models.AchievementOverride{ID: id, Name: id, Deleted: true, UpdatedBy: NormalizeEmail(by)}
	for _, def := range DefaultCatalog {
		if def.ID == id {
			row = models.AchievementOverride{ID: id, Name: def.Name, Rarity: def.Rarity, Condition: def.Condition, Deleted: true, UpdatedBy: row.UpdatedBy}
		}
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"deleted", "updated_by", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	s.invalidate()
	return nil
}

func validateCondition(c models.Condition) error {
	switch c.Kind {
	case models.ConditionEvent:
		if _, ok := EventSchema[c.Event]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEvent, c.Event)
		}
	case models.ConditionPlanAtLeast:
		if !IsValidPlan(c.Event) {
			return fmt.Errorf("%w: %s", ErrUnknownPlan, c.Event)
		}
	case models.ConditionProfileComplete, models.ConditionDiscordLinked,
		models.ConditionAccountAgeDays, models.ConditionCampaignsJoined:
	default:
		return fmt.Errorf("%w: unknown condition kind %q", ErrValidation, c.Kind)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("%w: negative threshold", ErrValidation)
	}
	return nil
}

// RecordEvent applies an event to the user's log and evaluates the
// catalog in the same transaction. It returns the newly unlocked entries.
func (s *AchievementService) RecordEvent(ctx context.Context, userID string, in EventInput) ([]models.AchievementDefinition, error) {
	if err := Validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, ok := EventSchema[in.Name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, in.Name)
	}
	return s.withLockedUser(ctx, userID, func(u *models.User) error {
		if u.Events == nil {
			u.Events = models.EventLog{}
		}
		return ApplyEvent(u.Events, in)
	})
}

// Evaluate re-runs the catalog against the stored user.
func (s *AchievementService) Evaluate(ctx context.Context, userID string) ([]models.AchievementDefinition, error) {
	return s.withLockedUser(ctx, userID, func(*models.User) error { return nil })
}

func (s *AchievementService) withLockedUser(ctx context.Context, userID string, mutate func(*models.User) error) ([]models.AchievementDefinition, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	var unlocked []models.AchievementDefinition
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user %s", ErrNotFound, userID)
			}
			return err
		}
		if err := mutate(&u); err != nil {
			return err
		}
		unlocked = EvaluateUser(&u, catalog, s.now())
		return tx.Model(&u).Select("Events", "Achievements").Updates(&u).Error
	})
	if err != nil {
		return nil, err
	}
	for _, def := range unlocked {
		metrics.AchievementsUnlocked.WithLabelValues(string(def.Rarity)).Inc()
		logger.Info().Str("user_id", userID).Str("achievement", def.ID).Msg("🏆 Achievement unlocked")
	}
	return unlocked, nil
}

// ForUser lists the catalog with the user's unlock state plus progress.
func (s *AchievementService) ForUser(ctx context.Context, u *models.User) ([]AchievementView, Progress, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, Progress{}, err
	}
	views := make([]AchievementView, 0, len(catalog))
	for _, def := range catalog {
		st := u.Achievements[def.ID]
		views = append(views, AchievementView{AchievementDefinition: def, Unlocked: st.Unlocked, UnlockedAt: st.UnlockedAt})
	}
	return views, ComputeProgress(u, catalog), nil
}

// SweepAll evaluates every user; it picks up time-based conditions such
// as account age that no event triggers.
func (s *AchievementService) SweepAll(ctx context.Context) (int, error) {
	var ids []string
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		unlocked, err := s.Evaluate(ctx, id)
		if err != nil {
			logger.Warn().Err(err).Str("user_id", id).Msg("⚠️ Achievement sweep skipped user")
			continue
		}
		total += len(unlocked)
	}
	return total, nil
}
