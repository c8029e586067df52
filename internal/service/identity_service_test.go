package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"avatar-api/internal/domain"
	"avatar-api/internal/repository"
)

func newTestIdentityService(repo repository.UserRepository, cache IdentityCache) *IdentityService {
	svc := NewIdentityService(zap.NewNop(), repo, cache)
	svc.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(reconcileAttempts-1, retry.NewConstant(time.Millisecond))
	}
	return svc
}

func TestResolveOrCreate_CreatesNewUser(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestIdentityService(repo, nil)

	user, err := svc.ResolveOrCreate(context.Background(), domain.ProviderGoogle, domain.Profile{
		Subject:  "g1",
		Email:    " U@E.com ",
		Name:     "U",
		PhotoURL: "https://img/u.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID == "" {
		t.Fatalf("expected id to be assigned")
	}
	if user.Email != "u@e.com" || user.ProviderID != "g1" || user.Provider != domain.ProviderGoogle {
		t.Fatalf("unexpected identity: %+v", user)
	}
	if user.Score != 0 || user.Level != 1 || !user.IsActive {
		t.Fatalf("expected defaults score=0 level=1 active, got %+v", user)
	}
	if n, _ := repo.Count(context.Background()); n != 1 {
		t.Fatalf("expected 1 stored user, got %d", n)
	}
}

func TestResolveOrCreate_UpdatesExistingIdentity(t *testing.T) {
	repo := newMockUserRepo()
	repo.seed(domain.User{
		ID: "u-1", Email: "u@e.com", Name: "Old", PhotoURL: "https://img/old.png",
		Provider: domain.ProviderGoogle, ProviderID: "g1", IsActive: true, Score: 40, Level: 3,
	})
	svc := newTestIdentityService(repo, nil)

	user, err := svc.ResolveOrCreate(context.Background(), domain.ProviderGoogle, domain.Profile{
		Subject: "g1", Email: "u@e.com", Name: "New",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "u-1" || user.Name != "New" {
		t.Fatalf("expected name refreshed on same user, got %+v", user)
	}
	if user.PhotoURL != "https://img/old.png" {
		t.Fatalf("expected empty photo to keep stored value, got %q", user.PhotoURL)
	}
	if user.Score != 40 || user.Level != 3 {
		t.Fatalf("expected score and level untouched, got %+v", user)
	}
	if n, _ := repo.Count(context.Background()); n != 1 {
		t.Fatalf("expected no new user, got %d", n)
	}
}

func TestResolveOrCreate_EmptyNameKeepsStoredName(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestIdentityService(repo, nil)
	ctx := context.Background()

	first, err := svc.ResolveOrCreate(ctx, domain.ProviderGoogle, domain.Profile{
		Subject: "g1", Email: "u@e.com", Name: "U", PhotoURL: "https://img/u.png",
	})
	if err != nil {
		t.Fatalf("first login: %v", err)
	}

	second, err := svc.ResolveOrCreate(ctx, domain.ProviderGoogle, domain.Profile{
		Subject: "g1", Email: "u@e.com", Name: "  ",
	})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same user, got %s and %s", first.ID, second.ID)
	}
	if second.Name != "U" {
		t.Fatalf("expected empty name to keep %q, got %q", "U", second.Name)
	}
	stored, err := repo.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.Name != "U" || stored.PhotoURL != "https://img/u.png" {
		t.Fatalf("expected stored name and photo kept, got %+v", stored)
	}
}

func TestResolveOrCreate_ReownsAccountByEmail(t *testing.T) {
	repo := newMockUserRepo()
	repo.seed(domain.User{
		ID: "u-1", Email: "u@e.com", Name: "U",
		Provider: domain.ProviderGoogle, ProviderID: "g1", IsActive: true, Level: 1,
	})
	cache := newRecordingCache()
	svc := newTestIdentityService(repo, cache)

	user, err := svc.ResolveOrCreate(context.Background(), domain.ProviderFacebook, domain.Profile{
		Subject: "f1", Email: "U@e.com", Name: "U FB",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "u-1" || user.Provider != domain.ProviderFacebook || user.ProviderID != "f1" {
		t.Fatalf("expected account re-owned by facebook, got %+v", user)
	}
	if _, err := repo.GetByProvider(context.Background(), domain.ProviderGoogle, "g1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected previous google link to be gone, got %v", err)
	}
	if !containsAll(cache.invalidated, "f1", "g1") {
		t.Fatalf("expected old and new providerIds invalidated, got %+v", cache.invalidated)
	}
}

func TestResolveOrCreate_RetriesAfterConcurrentInsert(t *testing.T) {
	repo := newMockUserRepo()
	repo.beforeCreate = func(call int) {
		if call == 1 {
			repo.seed(domain.User{
				ID: "winner", Email: "u@e.com", Provider: domain.ProviderGoogle, ProviderID: "g1", IsActive: true, Level: 1,
			})
		}
	}
	svc := newTestIdentityService(repo, nil)

	user, err := svc.ResolveOrCreate(context.Background(), domain.ProviderGoogle, domain.Profile{Subject: "g1", Email: "u@e.com"})
	if err != nil {
		t.Fatalf("expected retry to converge, got %v", err)
	}
	if user.ID != "winner" {
		t.Fatalf("expected concurrently inserted user, got %+v", user)
	}
	if repo.createCalls != 1 {
		t.Fatalf("expected one create attempt, got %d", repo.createCalls)
	}
}

func TestResolveOrCreate_PersistentConflictIsInternal(t *testing.T) {
	repo := newMockUserRepo()
	repo.createErr = repository.ErrConflict
	svc := newTestIdentityService(repo, nil)

	_, err := svc.ResolveOrCreate(context.Background(), domain.ProviderGoogle, domain.Profile{Subject: "g1", Email: "u@e.com"})
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if repo.createCalls != reconcileAttempts {
		t.Fatalf("expected %d attempts, got %d", reconcileAttempts, repo.createCalls)
	}
}

func TestResolveOrCreate_StoreFailureIsNotRetried(t *testing.T) {
	repo := newMockUserRepo()
	repo.lookupErr = errors.New("connection reset")
	svc := newTestIdentityService(repo, nil)

	_, err := svc.ResolveOrCreate(context.Background(), domain.ProviderGoogle, domain.Profile{Subject: "g1", Email: "u@e.com"})
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if repo.providerCalls != 1 {
		t.Fatalf("expected a single attempt, got %d", repo.providerCalls)
	}
}

func TestResolveOrCreate_RejectsIncompleteProfile(t *testing.T) {
	svc := newTestIdentityService(newMockUserRepo(), nil)
	cases := []domain.Profile{
		{Subject: "", Email: "u@e.com"},
		{Subject: "g1", Email: "  "},
	}
	for _, p := range cases {
		if _, err := svc.ResolveOrCreate(context.Background(), domain.ProviderGoogle, p); !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("expected ErrInvalidCredential for %+v, got %v", p, err)
		}
	}
}

func TestResolveOrCreate_ConcurrentLoginsConverge(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestIdentityService(repo, nil)

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := svc.ResolveOrCreate(context.Background(), domain.ProviderGoogle, domain.Profile{Subject: "g1", Email: "u@e.com"})
			ids[i], errs[i] = u.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("expected all workers to resolve the same user, got %s and %s", ids[0], ids[i])
		}
	}
	if n, _ := repo.Count(context.Background()); n != 1 {
		t.Fatalf("expected exactly one stored user, got %d", n)
	}
}

func TestLookup_CacheHitRereadsRowByID(t *testing.T) {
	repo := newMockUserRepo()
	repo.seed(domain.User{ID: "u-1", Email: "u@e.com", Provider: domain.ProviderGoogle, ProviderID: "g1", IsActive: true})
	kv := newMockRedisKV()
	svc := newTestIdentityService(repo, newRedisIdentityCache(kv, nil, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		u, err := svc.Lookup(ctx, "g1")
		if err != nil || u.ID != "u-1" {
			t.Fatalf("lookup %d: user=%+v err=%v", i, u, err)
		}
	}
	if repo.providerCalls != 1 {
		t.Fatalf("expected one providerId lookup, got %d", repo.providerCalls)
	}
	if repo.idCalls != 2 {
		t.Fatalf("expected cached hits to reread the row, got %d reads", repo.idCalls)
	}

	// Un cambio hecho por fuera del servicio se ve en la siguiente lectura.
	if err := repo.SetActive(ctx, "u-1", false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	u, err := svc.Lookup(ctx, "g1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if u.IsActive {
		t.Fatalf("expected cached mapping to surface the stored inactive flag")
	}
}

func TestLookup_StaleMappingFallsBackToProviderLookup(t *testing.T) {
	repo := newMockUserRepo()
	repo.seed(domain.User{ID: "u-1", Email: "a@e.com", Provider: domain.ProviderFacebook, ProviderID: "f2", IsActive: true})
	repo.seed(domain.User{ID: "u-2", Email: "b@e.com", Provider: domain.ProviderGoogle, ProviderID: "g1", IsActive: true})
	kv := newMockRedisKV()
	// Entrada escrita cuando u-1 todavía era dueño de g1.
	kv.store["auth:identity:g1"] = []byte("u-1")
	svc := newTestIdentityService(repo, newRedisIdentityCache(kv, nil, time.Minute))

	u, err := svc.Lookup(context.Background(), "g1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if u.ID != "u-2" {
		t.Fatalf("expected current owner u-2, got %s", u.ID)
	}
	if got := string(kv.store["auth:identity:g1"]); got != "u-2" {
		t.Fatalf("expected mapping repaired to u-2, got %q", got)
	}
}

func TestLookup_MappingToDeletedRowFallsBack(t *testing.T) {
	repo := newMockUserRepo()
	kv := newMockRedisKV()
	kv.store["auth:identity:g1"] = []byte("gone")
	svc := newTestIdentityService(repo, newRedisIdentityCache(kv, nil, time.Minute))

	if _, err := svc.Lookup(context.Background(), "g1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := kv.store["auth:identity:g1"]; ok {
		t.Fatalf("expected dangling mapping to be dropped")
	}
}

func TestLookup_CachedPathPropagatesStoreErrors(t *testing.T) {
	repo := newMockUserRepo()
	repo.seed(domain.User{ID: "u-1", Email: "u@e.com", Provider: domain.ProviderGoogle, ProviderID: "g1", IsActive: true})
	kv := newMockRedisKV()
	kv.store["auth:identity:g1"] = []byte("u-1")
	repo.lookupErr = errors.New("connection reset")
	svc := newTestIdentityService(repo, newRedisIdentityCache(kv, nil, time.Minute))

	if _, err := svc.Lookup(context.Background(), "g1"); err == nil || errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected store error, got %v", err)
	}
	if repo.providerCalls != 0 {
		t.Fatalf("expected no fallback lookup on store error, got %d", repo.providerCalls)
	}
}

func TestLookup_AmbiguousProviderID(t *testing.T) {
	repo := newMockUserRepo()
	repo.seed(domain.User{ID: "u-1", Email: "a@e.com", Provider: domain.ProviderGoogle, ProviderID: "123"})
	repo.seed(domain.User{ID: "u-2", Email: "b@e.com", Provider: domain.ProviderFacebook, ProviderID: "123"})
	svc := newTestIdentityService(repo, nil)

	if _, err := svc.Lookup(context.Background(), "123"); !errors.Is(err, repository.ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
}

func TestSetActive_InvalidatesCache(t *testing.T) {
	repo := newMockUserRepo()
	repo.seed(domain.User{ID: "u-1", Email: "u@e.com", Provider: domain.ProviderGoogle, ProviderID: "g1", IsActive: true})
	cache := newRecordingCache()
	svc := newTestIdentityService(repo, cache)
	ctx := context.Background()

	if _, err := svc.Lookup(ctx, "g1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	u, err := svc.SetActive(ctx, "g1", false)
	if err != nil {
		t.Fatalf("set active: %v", err)
	}
	if u.IsActive {
		t.Fatalf("expected returned user to be inactive")
	}
	got, err := svc.Lookup(ctx, "g1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected lookup after deactivation to see inactive user")
	}
	if !containsAll(cache.invalidated, "g1") {
		t.Fatalf("expected g1 invalidated, got %+v", cache.invalidated)
	}
}

func TestSetActive_UnknownProviderID(t *testing.T) {
	svc := newTestIdentityService(newMockUserRepo(), nil)
	if _, err := svc.SetActive(context.Background(), "nope", false); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func containsAll(got []string, want ...string) bool {
	seen := make(map[string]bool, len(got))
	for _, g := range got {
		seen[g] = true
	}
	for _, w := range want {
		if !seen[w] {
			return false
		}
	}
	return true
}
