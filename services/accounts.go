package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rpg-portal/logger"
	"rpg-portal/metrics"
	"rpg-portal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReconcileOutcome names what sign-in reconciliation did.
type ReconcileOutcome string

const (
	OutcomeCreated  ReconcileOutcome = "created"
	OutcomeUpdated  ReconcileOutcome = "updated"
	OutcomeMerged   ReconcileOutcome = "merged"
	OutcomeDegraded ReconcileOutcome = "degraded"
)

// ReconcileResult is the single value returned by Reconcile. Cause is
// only set for OutcomeDegraded.
type ReconcileResult struct {
	Outcome     ReconcileOutcome `json:"outcome"`
	User        *models.User     `json:"user"`
	MergedIDs   []string         `json:"merged_ids,omitempty"`
	Permissions Permissions      `json:"permissions"`
	Cause       string           `json:"cause,omitempty"`
}

// AccountService resolves authenticated principals to exactly one
// canonical user record.
type AccountService struct {
	DB     *gorm.DB
	Policy *AccessPolicy
	now    func() time.Time
}

func NewAccountService(db *gorm.DB, policy *AccessPolicy) *AccountService {
	return &AccountService{DB: db, Policy: policy, now: time.Now}
}

// Reconcile runs on every successful sign-in. Failures fall back to a
// minimal upsert of the uid-keyed record flagged as degraded, so the user
// can still log in; only a failure of that fallback is returned as error.
func (s *AccountService) Reconcile(ctx context.Context, p Principal) (ReconcileResult, error) {
	email := NormalizeEmail(p.Email)
	if p.UID == "" || !IsValidEmail(email) {
		return ReconcileResult{}, fmt.Errorf("%w: principal needs uid and a valid email", ErrValidation)
	}
	p.Email = email

	res, err := s.reconcile(ctx, p)
	if err != nil {
		logger.Warn().Err(err).Str("uid", p.UID).Str("email", email).Msg("⚠️ Reconciliation failed, falling back to degraded upsert")
		user, ferr := s.degradedUpsert(ctx, p)
		if ferr != nil {
			return ReconcileResult{}, fmt.Errorf("%w: degraded upsert: %v (after %v)", ErrUnavailable, ferr, err)
		}
		res = ReconcileResult{Outcome: OutcomeDegraded, User: user, Cause: err.Error()}
	}

	perms := s.Policy.Resolve(res.User, email)
	if perms.PlanWriteBack {
		if err := s.DB.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", res.User.ID).Update("plan", perms.Plan).Error; err != nil {
			logger.Error().Err(err).Str("user_id", res.User.ID).Msg("❌ Failed to write back special plan")
		} else {
			res.User.Plan = perms.Plan
		}
	}
	res.Permissions = perms

	metrics.Reconciliations.WithLabelValues(string(res.Outcome)).Inc()
	logger.Info().Str("user_id", res.User.ID).Str("outcome", string(res.Outcome)).
		Int("merged", len(res.MergedIDs)).Msg("✅ Account reconciled")
	return res, nil
}

func (s *AccountService) reconcile(ctx context.Context, p Principal) (ReconcileResult, error) {
	db := s.DB.WithContext(ctx)

	matches, err := s.findByEmail(db, p.Email)
	if err != nil {
		return ReconcileResult{}, err
	}

	switch len(matches) {
	case 0:
		// The provider may report a new email for an existing uid.
		var existing models.User
		err := db.First(&existing, "id = ?", p.UID).Error
		if err == nil {
			if err := s.applyAuthFields(db, &existing, p); err != nil {
				return ReconcileResult{}, err
			}
			return ReconcileResult{Outcome: OutcomeUpdated, User: &existing}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return ReconcileResult{}, fmt.Errorf("lookup uid: %w", err)
		}
		user, err := s.create(db, p)
		if err != nil {
			return ReconcileResult{}, err
		}
		return ReconcileResult{Outcome: OutcomeCreated, User: user}, nil

	case 1:
		user := matches[0]
		if err := s.applyAuthFields(db, &user, p); err != nil {
			return ReconcileResult{}, err
		}
		return ReconcileResult{Outcome: OutcomeUpdated, User: &user}, nil
	}

	var merged models.User
	var removed []string
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		merged, removed, err = s.mergeTx(tx, matches, p.UID)
		if err != nil {
			return err
		}
		return s.applyAuthFields(tx, &merged, p)
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("merge duplicates: %w", err)
	}
	return ReconcileResult{Outcome: OutcomeMerged, User: &merged, MergedIDs: removed}, nil
}

// MergeEmail folds every record sharing email into one, without an
// authenticated principal. It is the recovery path used by the
// duplicate sweeper and the maintenance CLI; running it on an email with
// a single record is a no-op.
func (s *AccountService) MergeEmail(ctx context.Context, email string) (ReconcileResult, error) {
	email = NormalizeEmail(email)
	var res ReconcileResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		matches, err := s.findByEmail(tx.Clauses(clause.Locking{Strength: "UPDATE"}), email)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("%w: no user with email %s", ErrNotFound, email)
		}
		if len(matches) == 1 {
			res = ReconcileResult{Outcome: OutcomeUpdated, User: &matches[0]}
			return nil
		}
		merged, removed, err := s.mergeTx(tx, matches, "")
		if err != nil {
			return err
		}
		res = ReconcileResult{Outcome: OutcomeMerged, User: &merged, MergedIDs: removed}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	if res.Outcome == OutcomeMerged {
		metrics.Reconciliations.WithLabelValues(string(OutcomeMerged)).Inc()
	}
	return res, nil
}

// DuplicateEmails lists emails currently held by more than one record.
func (s *AccountService) DuplicateEmails(ctx context.Context) ([]string, error) {
	var emails []string
	err := s.DB.WithContext(ctx).Model(&models.User{}).
		Select("LOWER(email)").
		Group("LOWER(email)").
		Having("COUNT(*) > 1").
		Pluck("LOWER(email)", &emails).Error
	return emails, err
}

func (s *AccountService) findByEmail(db *gorm.DB, email string) ([]models.User, error) {
	var users []models.User
	if err := db.Where("LOWER(email) = ?", NormalizeEmail(email)).
		Order("created_at ASC").Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("query users by email: %w", err)
	}
	return users, nil
}

func (s *AccountService) create(db *gorm.DB, p Principal) (*models.User, error) {
	now := s.now()
	user := &models.User{
		ID:           p.UID,
		UID:          p.UID,
		Email:        p.Email,
		DisplayName:  p.DisplayName,
		PhotoURL:     p.PhotoURL,
		Plan:         LowestPlan(),
		Events:       models.EventLog{},
		Achievements: map[string]models.AchievementState{},
		FirstLogin:   true,
		LastLoginAt:  &now,
	}
	if err := db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// applyAuthFields refreshes the denormalised identity fields and the
// last-login time. The plan is never touched here.
func (s *AccountService) applyAuthFields(db *gorm.DB, user *models.User, p Principal) error {
	now := s.now()
	user.UID = p.UID
	user.Email = p.Email
	if p.DisplayName != "" {
		user.DisplayName = p.DisplayName
	}
	if p.PhotoURL != "" {
		user.PhotoURL = p.PhotoURL
	}
	user.FirstLogin = false
	user.Degraded = false
	user.LastLoginAt = &now

	err := db.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"uid":           user.UID,
		"email":         user.Email,
		"display_name":  user.DisplayName,
		"photo_url":     user.PhotoURL,
		"first_login":   false,
		"degraded":      false,
		"last_login_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("update auth fields: %w", err)
	}

	// The uid now belongs to this record only.
	if err := db.Model(&models.User{}).
		Where("uid = ? AND id <> ?", user.UID, user.ID).
		Update("uid", "").Error; err != nil {
		return fmt.Errorf("release uid: %w", err)
	}
	return nil
}

// mergeTx writes the merged canonical record, repoints seat claims and
// messages held by the other records, then deletes them. It must run
// inside a transaction.
func (s *AccountService) mergeTx(tx *gorm.DB, records []models.User, uid string) (models.User, []string, error) {
	canonical, removed := MergeAccounts(records, uid)
	now := s.now()
	canonical.LastMergeAt = &now

	if err := tx.Save(&canonical).Error; err != nil {
		return models.User{}, nil, fmt.Errorf("save canonical: %w", err)
	}
	if len(removed) == 0 {
		return canonical, nil, nil
	}
	if err := tx.Model(&models.SeatClaim{}).Where("user_id IN ?", removed).
		Update("user_id", canonical.ID).Error; err != nil {
		return models.User{}, nil, fmt.Errorf("repoint seat claims: %w", err)
	}
	if err := tx.Model(&models.Message{}).Where("user_id IN ?", removed).
		Update("user_id", canonical.ID).Error; err != nil {
		return models.User{}, nil, fmt.Errorf("repoint messages: %w", err)
	}
	if err := tx.Where("id IN ?", removed).Delete(&models.User{}).Error; err != nil {
		return models.User{}, nil, fmt.Errorf("delete duplicates: %w", err)
	}

	metrics.DuplicatesRemoved.Add(float64(len(removed)))
	logger.Info().Str("canonical_id", canonical.ID).Strs("removed", removed).Str("plan", canonical.Plan).
		Msg("🔀 Merged duplicate accounts")
	return canonical, removed, nil
}

func (s *AccountService) degradedUpsert(ctx context.Context, p Principal) (*models.User, error) {
	now := s.now()
	user := models.User{
		ID:          p.UID,
		UID:         p.UID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
		Plan:        LowestPlan(),
		Degraded:    true,
		LastLoginAt: &now,
	}
	db := s.DB.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"uid", "email", "display_name", "photo_url", "degraded", "last_login_at",
		}),
	}).Create(&user).Error; err != nil {
		return nil, err
	}

	// Best effort: pick up the stored plan if the row already existed.
	var stored models.User
	if err := db.First(&stored, "id = ?", p.UID).Error; err == nil {
		return &stored, nil
	}
	return &user, nil
}

// MergeAccounts picks the canonical record among records sharing one
// email and folds the others into it. It is pure: the returned record
// is a copy and removed lists the ids of the non-canonical inputs.
//
// Canonical choice: the record whose uid (or id) equals uid; else the
// highest plan; ties broken by the number of populated fields, then by
// input order.
func MergeAccounts(records []models.User, uid string) (models.User, []string) {
	if len(records) == 0 {
		return models.User{}, nil
	}
	ci := chooseCanonical(records, uid)
	canonical := cloneUser(records[ci])

	addr := canonical.Address.Fields()
	var removed []string
	for i, other := range records {
		if i == ci {
			continue
		}
		removed = append(removed, other.ID)

		fillEmpty(&canonical.DisplayName, other.DisplayName)
		fillEmpty(&canonical.PhotoURL, other.PhotoURL)
		fillEmpty(&canonical.Phone, other.Phone)
		fillEmpty(&canonical.Discord, other.Discord)
		fillEmpty(&canonical.UID, other.UID)

		for k, v := range other.Address.Fields() {
			if addr[k] == "" {
				addr[k] = v
			}
		}
		for k, v := range other.Events {
			if _, ok := canonical.Events[k]; !ok {
				canonical.Events[k] = v
			}
		}
		for k, v := range other.Achievements {
			if _, ok := canonical.Achievements[k]; !ok {
				canonical.Achievements[k] = v
			}
		}

		canonical.Plan = HigherPlan(canonical.Plan, other.Plan)
		if !other.CreatedAt.IsZero() && (canonical.CreatedAt.IsZero() || other.CreatedAt.Before(canonical.CreatedAt)) {
			canonical.CreatedAt = other.CreatedAt
		}
		canonical.MergedFrom = append(canonical.MergedFrom, other.ID)
		canonical.MergedFrom = append(canonical.MergedFrom, other.MergedFrom...)
	}
	canonical.Address = models.AddressFromFields(addr)
	if !IsValidPlan(canonical.Plan) {
		canonical.Plan = LowestPlan()
	}
	canonical.Email = NormalizeEmail(canonical.Email)
	return canonical, removed
}

func chooseCanonical(records []models.User, uid string) int {
	if uid != "" {
		for i, r := range records {
			if r.UID == uid || r.ID == uid {
				return i
			}
		}
	}

	best := -1
	for i, r := range records {
		if best == -1 {
			best = i
			continue
		}
		bl, rl := PlanLevel(records[best].Plan), PlanLevel(r.Plan)
		if rl > bl || (rl == bl && PopulatedFields(r) > PopulatedFields(records[best])) {
			best = i
		}
	}
	return best
}

// PopulatedFields counts the non-empty profile fields of u.
func PopulatedFields(u models.User) int {
	n := 0
	for _, v := range []string{u.DisplayName, u.PhotoURL, u.Phone, u.Discord, u.UID, u.Plan} {
		if v != "" {
			n++
		}
	}
	for _, v := range u.Address.Fields() {
		if v != "" {
			n++
		}
	}
	if len(u.Events) > 0 {
		n++
	}
	if len(u.Achievements) > 0 {
		n++
	}
	return n
}

func fillEmpty(dst *string, src string) {
	if *dst == "" && src != "" {
		*dst = src
	}
}

func cloneUser(u models.User) models.User {
	out := u
	out.Events = make(models.EventLog, len(u.Events))
	for k, v := range u.Events {
		v.Values = append([]string(nil), v.Values...)
		out.Events[k] = v
	}
	out.Achievements = make(map[string]models.AchievementState, len(u.Achievements))
	for k, v := range u.Achievements {
		out.Achievements[k] = v
	}
	out.MergedFrom = append([]string(nil), u.MergedFrom...)
	return out
}

// LoadSession rebuilds the per-request session for an authenticated
// principal: the stored record (by uid, then by email) and its resolved
// permissions. A principal without a stored record must sign in again.
func (s *AccountService) LoadSession(ctx context.Context, p Principal) (*Session, error) {
	db := s.DB.WithContext(ctx)
	email := NormalizeEmail(p.Email)

	var candidates []models.User
	if err := db.Where("id = ? OR uid = ?", p.UID, p.UID).Order("created_at ASC").Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("%w: load session user: %v", ErrUnavailable, err)
	}
	user, ok := sessionUser(candidates, p.UID, email)
	if !ok {
		err := db.Where("LOWER(email) = ?", email).Order("created_at ASC").First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no account for this session", ErrUnauthenticated)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: load session user: %v", ErrUnavailable, err)
		}
	}
	return &Session{Principal: p, User: &user, Permissions: s.Policy.Resolve(&user, p.Email)}, nil
}

// sessionUser picks the record serving a session among those keyed by
// uid: the one holding both the uid and the session email, then the one
// holding the uid, then the oldest. Candidates come sorted by creation.
func sessionUser(candidates []models.User, uid, email string) (models.User, bool) {
	if len(candidates) == 0 {
		return models.User{}, false
	}
	for _, u := range candidates {
		if u.UID == uid && NormalizeEmail(u.Email) == email {
			return u, true
		}
	}
	for _, u := range candidates {
		if u.UID == uid {
			return u, true
		}
	}
	return candidates[0], true
}

// DedupeReport summarises a duplicate sweep.
type DedupeReport struct {
	Emails  int      `json:"emails"`
	Removed int      `json:"removed"`
	Failed  []string `json:"failed,omitempty"`
}

// SweepDuplicates merges every email still held by several records. It
// is safe to re-run at any time; emails that fail are reported and
// retried on the next sweep.
func (s *AccountService) SweepDuplicates(ctx context.Context) (DedupeReport, error) {
	var report DedupeReport
	emails, err := s.DuplicateEmails(ctx)
	if err != nil {
		return report, fmt.Errorf("find duplicates: %w", err)
	}
	for _, email := range emails {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := s.MergeEmail(ctx, email)
		if err != nil {
			logger.Error().Err(err).Str("email", email).Msg("❌ Duplicate merge failed")
			report.Failed = append(report.Failed, email)
			continue
		}
		report.Emails++
		report.Removed += len(res.MergedIDs)
	}
	return report, nil
}
