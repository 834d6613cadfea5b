package services

import (
	"testing"
	"time"

	"rpg-portal/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unlockedIDs(defs []models.AchievementDefinition) []string {
	ids := make([]string, 0, len(defs))
	for _, d := range defs {
		ids = append(ids, d.ID)
	}
	return ids
}

func TestApplyEventKinds(t *testing.T) {
	log := models.EventLog{}

	require.NoError(t, ApplyEvent(log, EventInput{Name: "rules_read"}))
	require.NoError(t, ApplyEvent(log, EventInput{Name: "rules_read"}))
	assert.Equal(t, int64(1), log.Count("rules_read"))

	require.NoError(t, ApplyEvent(log, EventInput{Name: "dice_rolled"}))
	require.NoError(t, ApplyEvent(log, EventInput{Name: "dice_rolled", Amount: 4}))
	assert.Equal(t, int64(5), log.Count("dice_rolled"))

	require.NoError(t, ApplyEvent(log, EventInput{Name: "systems_played", Value: "Tormenta20"}))
	require.NoError(t, ApplyEvent(log, EventInput{Name: "systems_played", Value: "Tormenta20"}))
	require.NoError(t, ApplyEvent(log, EventInput{Name: "systems_played", Value: "GURPS"}))
	assert.Equal(t, int64(2), log.Count("systems_played"))
	assert.Equal(t, []string{"Tormenta20", "GURPS"}, log["systems_played"].Values)

	assert.ErrorIs(t, ApplyEvent(log, EventInput{Name: "systems_played"}), ErrValidation)
	assert.ErrorIs(t, ApplyEvent(log, EventInput{Name: "teleported"}), ErrUnknownEvent)
}

func TestEvaluateUserIsIdempotent(t *testing.T) {
	now := time.Now()
	u := &models.User{
		DisplayName: "Lia",
		Discord:     "lia#42",
		Plan:        PlanLorde,
		CreatedAt:   now.Add(-400 * 24 * time.Hour),
		Events: models.EventLog{
			"first_login":  {Count: 1},
			"seat_claimed": {Count: 1, Values: []string{"c1"}},
		},
	}

	first := EvaluateUser(u, DefaultCatalog, now)
	assert.ElementsMatch(t,
		[]string{"boas-vindas", "taverna", "primeira-mesa", "um-ano", "apoiador", "nobreza"},
		unlockedIDs(first))

	snapshot := make(map[string]models.AchievementState, len(u.Achievements))
	for k, v := range u.Achievements {
		snapshot[k] = v
	}
	second := EvaluateUser(u, DefaultCatalog, now.Add(time.Minute))
	assert.Empty(t, second)
	assert.Empty(t, cmp.Diff(snapshot, u.Achievements))
}

func TestConditionThresholds(t *testing.T) {
	now := time.Now()
	u := &models.User{Events: models.EventLog{"character_created": {Count: 2}}}
	cond := models.Condition{Kind: models.ConditionEvent, Event: "character_created", Threshold: 3}
	assert.False(t, ConditionMet(u, cond, now))

	u.Events["character_created"] = models.EventEntry{Count: 3}
	assert.True(t, ConditionMet(u, cond, now))

	zero := models.Condition{Kind: models.ConditionEvent, Event: "dice_rolled"}
	assert.False(t, ConditionMet(u, zero, now))
	u.Events["dice_rolled"] = models.EventEntry{Count: 1}
	assert.True(t, ConditionMet(u, zero, now))

	age := models.Condition{Kind: models.ConditionAccountAgeDays, Threshold: 30}
	assert.False(t, ConditionMet(&models.User{}, age, now), "unknown creation date")
	assert.True(t, ConditionMet(&models.User{CreatedAt: now.Add(-31 * 24 * time.Hour)}, age, now))

	full := &models.User{DisplayName: "a", PhotoURL: "b", Phone: "c", Discord: "d",
		Address: models.Address{Street: "Rua", Number: "1", City: "Rio", State: "RJ", PostalCode: "20000-000"}}
	assert.True(t, ConditionMet(full, models.Condition{Kind: models.ConditionProfileComplete}, now))
	full.Address.Number = ""
	assert.False(t, ConditionMet(full, models.Condition{Kind: models.ConditionProfileComplete}, now))

	assert.False(t, ConditionMet(&models.User{Plan: PlanAdmin}, models.Condition{Kind: models.ConditionPlanAtLeast, Event: "platina"}, now))
	assert.False(t, ConditionMet(full, models.Condition{Kind: "mystery"}, now))
}

func TestComputeProgress(t *testing.T) {
	catalog := []models.AchievementDefinition{
		{ID: "a", XP: 60},
		{ID: "b", XP: 40},
		{ID: "c", XP: 500},
	}
	u := &models.User{Achievements: map[string]models.AchievementState{
		"a": {Unlocked: true},
		"b": {Unlocked: true},
	}}
	p := ComputeProgress(u, catalog)
	assert.Equal(t, int64(100), p.XP)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, int64(0), p.LevelXP)
	assert.Equal(t, xpForLevel(2), p.NextLevelXP)
	assert.Equal(t, 2, p.Unlocked)
	assert.Equal(t, 3, p.Total)

	empty := ComputeProgress(&models.User{}, catalog)
	assert.Equal(t, 1, empty.Level)
	assert.Equal(t, int64(100), empty.NextLevelXP)
}

func TestMergeCatalog(t *testing.T) {
	base := []models.AchievementDefinition{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}
	overrides := []models.AchievementOverride{
		{ID: "b", Name: "B2"},
		{ID: "a", Deleted: true},
		{ID: "z", Name: "Z"},
		{ID: "y", Name: "Y", Deleted: true},
	}
	got := MergeCatalog(base, overrides)
	want := []models.AchievementDefinition{{ID: "b", Name: "B2"}, {ID: "z", Name: "Z"}}
	assert.Empty(t, cmp.Diff(want, got))
}

func TestRecordEventUnlocksOnce(t *testing.T) {
	db := newTestDB(t)
	svc := NewAchievementService(db)
	u := seedUser(t, db, models.User{Email: "ev@example.com"})

	unlocked, err := svc.RecordEvent(bg, u.ID, EventInput{Name: "first_login"})
	require.NoError(t, err)
	assert.Equal(t, []string{"boas-vindas"}, unlockedIDs(unlocked))

	unlocked, err = svc.RecordEvent(bg, u.ID, EventInput{Name: "first_login"})
	require.NoError(t, err)
	assert.Empty(t, unlocked)

	for i := 0; i < 2; i++ {
		unlocked, err = svc.RecordEvent(bg, u.ID, EventInput{Name: "character_created"})
		require.NoError(t, err)
		assert.Empty(t, unlocked)
	}
	unlocked, err = svc.RecordEvent(bg, u.ID, EventInput{Name: "character_created"})
	require.NoError(t, err)
	assert.Equal(t, []string{"criador"}, unlockedIDs(unlocked))

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", u.ID).Error)
	assert.Equal(t, int64(3), stored.Events.Count("character_created"))
	assert.True(t, stored.Achievements["criador"].Unlocked)

	again, err := svc.Evaluate(bg, u.ID)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = svc.RecordEvent(bg, u.ID, EventInput{Name: "nope"})
	assert.ErrorIs(t, err, ErrUnknownEvent)
	_, err = svc.RecordEvent(bg, "missing", EventInput{Name: "first_login"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOverridesChangeTheCatalog(t *testing.T) {
	db := newTestDB(t)
	svc := NewAchievementService(db)

	catalog, err := svc.Catalog(bg)
	require.NoError(t, err)
	require.Len(t, catalog, len(DefaultCatalog))

	_, err = svc.UpsertOverride(bg, models.AchievementOverride{
		ID: "rolador", Name: "Rolador compulsivo", Rarity: models.RarityRara, XP: 40,
		Condition: models.Condition{Kind: models.ConditionEvent, Event: "dice_rolled", Threshold: 100},
	}, "mestre@example.com")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteOverride(bg, "estudioso", "mestre@example.com"))

	catalog, err = svc.Catalog(bg)
	require.NoError(t, err)
	ids := unlockedIDs(catalog)
	assert.Contains(t, ids, "rolador")
	assert.NotContains(t, ids, "estudioso")
	assert.Len(t, catalog, len(DefaultCatalog))

	_, err = svc.UpsertOverride(bg, models.AchievementOverride{ID: "x", Name: "X",
		Condition: models.Condition{Kind: models.ConditionEvent, Event: "teleported"}}, "")
	assert.ErrorIs(t, err, ErrUnknownEvent)
	_, err = svc.UpsertOverride(bg, models.AchievementOverride{ID: "x", Name: "X", Rarity: "mítica",
		Condition: models.Condition{Kind: models.ConditionDiscordLinked}}, "")
	assert.ErrorIs(t, err, ErrValidation)

	rows, err := svc.ListOverrides(bg)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSweepAllUnlocksPlanAchievements(t *testing.T) {
	db := newTestDB(t)
	svc := NewAchievementService(db)
	seedUser(t, db, models.User{Email: "rich@example.com", Plan: PlanLorde})
	seedUser(t, db, models.User{Email: "poor@example.com", Plan: PlanGratis})

	n, err := svc.SweepAll(bg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.SweepAll(bg)
	require.NoError(t, err)
	assert.Zero(t, n)
}
