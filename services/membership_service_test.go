package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"commerce-service/models"
	"commerce-service/sender"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ---- fake profile store ----

type fakeProfileStore struct {
	profiles      map[string]*models.MembershipProfile // keyed by user id
	applyCalls    int
	conflictsLeft int
	applyErr      error
	findErr       error
}

func (f *fakeProfileStore) FindByUserID(_ context.Context, userID string) (*models.MembershipProfile, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfileStore) FindByEmail(_ context.Context, email string) (*models.MembershipProfile, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, p := range f.profiles {
		if strings.EqualFold(p.Email, email) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeProfileStore) ApplyMembership(_ context.Context, id uuid.UUID, seenUpdatedAt time.Time, updates map[string]interface{}) (bool, error) {
	f.applyCalls++
	if f.applyErr != nil {
		return false, f.applyErr
	}

	var target *models.MembershipProfile
	for _, p := range f.profiles {
		if p.ID == id {
			target = p
		}
	}
	if target == nil || !target.UpdatedAt.Equal(seenUpdatedAt) {
		return false, nil
	}
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		target.UpdatedAt = target.UpdatedAt.Add(time.Millisecond)
		return false, nil
	}

	target.IsMember = updates["is_member"].(bool)
	target.MembershipPlans = updates["membership_plans"].([]string)
	since := updates["member_since"].(time.Time)
	target.MemberSince = &since
	expiry := updates["membership_expiry"].(time.Time)
	target.MembershipExpiry = &expiry
	target.MembershipSource = updates["membership_source"].(string)
	if cust, ok := updates["stripe_customer_id"].(string); ok {
		target.StripeCustomerID = &cust
	}
	// The real store stamps updated_at inside the conditional update.
	target.UpdatedAt = target.UpdatedAt.Add(time.Second)
	return true, nil
}

// ---- fake email sender ----

type fakeMail struct {
	sent []string
	err  error
}

func (f *fakeMail) SendEmail(_ context.Context, to, _, _ string) (sender.SendResult, error) {
	f.sent = append(f.sent, to)
	return sender.SendResult{}, f.err
}

// ---- fixtures ----

var grantTime = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func memberProfile() *models.MembershipProfile {
	exp := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.MembershipProfile{
		ID:               uuid.New(),
		UserID:           "user-7",
		Email:            "Fan@Example.com",
		IsMember:         true,
		MembershipPlans:  []string{"Guide"},
		MembershipExpiry: &exp,
		UpdatedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func completedSession(userID string) *stripe.CheckoutSession {
	return &stripe.CheckoutSession{
		ID: "cs_done_1",
		Metadata: map[string]string{
			"product_slugs": "socks,club-membership",
			"user_id":       userID,
		},
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: "fan@example.com"},
	}
}

func newGrantService(store *fakeProfileStore, mail *fakeMail, gw PaymentGateway) *membershipServiceImpl {
	var mailSender sender.EmailSender
	if mail != nil {
		mailSender = mail
	}
	svc := NewMembershipService(
		store, gw, mailSender,
		"club-membership", "Club Membership", "https://shop.example",
		zap.NewNop(),
	).(*membershipServiceImpl)
	svc.now = func() time.Time { return grantTime }
	svc.notify = func(fn func()) { fn() } // synchronous for tests
	return svc
}

func TestGrant_MergesPlansAndExtendsExpiry(t *testing.T) {
	profile := memberProfile()
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{"user-7": profile}}
	svc := newGrantService(store, &fakeMail{}, nil)

	svcErr := svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7"))

	assert.Nil(t, svcErr)
	assert.True(t, profile.IsMember)
	assert.ElementsMatch(t, []string{"Guide", "Club Membership"}, profile.MembershipPlans)
	assert.Equal(t, grantTime.AddDate(1, 0, 0), *profile.MembershipExpiry)
	assert.Equal(t, "stripe_checkout", profile.MembershipSource)
}

func TestGrant_Idempotent(t *testing.T) {
	profile := memberProfile()
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{"user-7": profile}}
	svc := newGrantService(store, &fakeMail{}, nil)

	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7")))
	plansAfterFirst := append([]string(nil), profile.MembershipPlans...)
	expiryAfterFirst := *profile.MembershipExpiry

	// The gateway redelivers on timeout; the second application must leave
	// the row exactly as the first did.
	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7")))

	assert.Equal(t, plansAfterFirst, profile.MembershipPlans)
	assert.Equal(t, expiryAfterFirst, *profile.MembershipExpiry)
	assert.Equal(t, 2, store.applyCalls)
}

func TestGrant_ExpiryNeverShortens(t *testing.T) {
	profile := memberProfile()
	far := grantTime.AddDate(3, 0, 0)
	profile.MembershipExpiry = &far
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{"user-7": profile}}
	svc := newGrantService(store, &fakeMail{}, nil)

	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7")))

	assert.Equal(t, far, *profile.MembershipExpiry)
}

func TestGrant_OutOfOrderDeliveriesConverge(t *testing.T) {
	profile := memberProfile()
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{"user-7": profile}}
	svc := newGrantService(store, &fakeMail{}, nil)

	later := grantTime.AddDate(0, 6, 0)
	svc.now = func() time.Time { return later }
	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7")))

	// An older delivery lands afterwards; the expiry must stay at the max.
	svc.now = func() time.Time { return grantTime }
	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7")))

	assert.Equal(t, later.AddDate(1, 0, 0), *profile.MembershipExpiry)
}

func TestGrant_IrrelevantSlugSkipped(t *testing.T) {
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{}}
	svc := newGrantService(store, &fakeMail{}, nil)

	sess := completedSession("user-7")
	sess.Metadata["product_slugs"] = "socks,jersey"

	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), sess))
	assert.Zero(t, store.applyCalls)
}

func TestGrant_MissingProfileIsBenign(t *testing.T) {
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{}}
	mail := &fakeMail{}
	svc := newGrantService(store, mail, nil)

	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), completedSession("user-unknown")))
	assert.Zero(t, store.applyCalls)
	assert.Empty(t, mail.sent)
}

func TestGrant_GuestResolvedByEmailCaseInsensitive(t *testing.T) {
	profile := memberProfile() // stored email Fan@Example.com
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{"user-7": profile}}
	svc := newGrantService(store, &fakeMail{}, nil)

	sess := completedSession("guest")
	sess.CustomerDetails.Email = "FAN@EXAMPLE.COM"

	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), sess))
	assert.ElementsMatch(t, []string{"Guide", "Club Membership"}, profile.MembershipPlans)
}

func TestGrant_MemberSinceSetOnlyForNewMembers(t *testing.T) {
	since := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	existing := memberProfile()
	existing.MemberSince = &since

	fresh := &models.MembershipProfile{
		ID:        uuid.New(),
		UserID:    "user-new",
		Email:     "new@example.com",
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{
		"user-7":   existing,
		"user-new": fresh,
	}}
	svc := newGrantService(store, &fakeMail{}, nil)

	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7")))
	assert.Equal(t, since, *existing.MemberSince)

	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), completedSession("user-new")))
	assert.Equal(t, grantTime, *fresh.MemberSince)
}

func TestGrant_StoresStripeCustomerReference(t *testing.T) {
	profile := memberProfile()
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{"user-7": profile}}
	svc := newGrantService(store, &fakeMail{}, nil)

	sess := completedSession("user-7")
	sess.Customer = &stripe.Customer{ID: "cus_42"}

	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), sess))
	assert.NotNil(t, profile.StripeCustomerID)
	assert.Equal(t, "cus_42", *profile.StripeCustomerID)
}

func TestGrant_RetriesOnConcurrentWrite(t *testing.T) {
	profile := memberProfile()
	store := &fakeProfileStore{
		profiles:      map[string]*models.MembershipProfile{"user-7": profile},
		conflictsLeft: 1,
	}
	svc := newGrantService(store, &fakeMail{}, nil)

	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7")))
	assert.Equal(t, 2, store.applyCalls)
	assert.True(t, profile.IsMember)
}

func TestGrant_WriteFailureSurfaces(t *testing.T) {
	profile := memberProfile()
	store := &fakeProfileStore{
		profiles: map[string]*models.MembershipProfile{"user-7": profile},
		applyErr: errors.New("connection reset"),
	}
	mail := &fakeMail{}
	svc := newGrantService(store, mail, nil)

	svcErr := svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7"))

	assert.NotNil(t, svcErr)
	assert.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
	assert.Empty(t, mail.sent, "no notification before a successful write")
}

func TestGrant_NotificationFailureDoesNotFailGrant(t *testing.T) {
	profile := memberProfile()
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{"user-7": profile}}
	mail := &fakeMail{err: errors.New("smtp down")}
	svc := newGrantService(store, mail, nil)

	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7")))
	assert.Len(t, mail.sent, 1)
	assert.True(t, profile.IsMember)
}

func TestGrant_NotificationGoesToPayerEmail(t *testing.T) {
	profile := memberProfile()
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{"user-7": profile}}
	mail := &fakeMail{}
	svc := newGrantService(store, mail, nil)

	assert.Nil(t, svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7")))
	assert.Equal(t, []string{"fan@example.com"}, mail.sent)
}

func TestGrant_StoreNotConfigured(t *testing.T) {
	svc := newGrantService(&fakeProfileStore{}, &fakeMail{}, nil)
	svc.repo = nil

	svcErr := svc.HandleCheckoutCompleted(context.Background(), completedSession("user-7"))

	assert.NotNil(t, svcErr)
	assert.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
}

// ---- portal ----

type fakePortalGateway struct {
	url      string
	err      error
	customer string
}

func (f *fakePortalGateway) BillingModeFor(context.Context, string) (models.BillingMode, error) {
	return models.BillingModeOneTime, nil
}
func (f *fakePortalGateway) CreateCheckoutSession(context.Context, *SessionRequest) (*models.CheckoutSessionResult, error) {
	return nil, errors.New("not used")
}
func (f *fakePortalGateway) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	f.customer = customerID
	return f.url, f.err
}

func TestPortal_Success(t *testing.T) {
	profile := memberProfile()
	cust := "cus_42"
	profile.StripeCustomerID = &cust
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{"user-7": profile}}
	gw := &fakePortalGateway{url: "https://billing.example/p_1"}
	svc := newGrantService(store, &fakeMail{}, gw)

	url, svcErr := svc.CreatePortalSession(context.Background(), "user-7")

	assert.Nil(t, svcErr)
	assert.Equal(t, "https://billing.example/p_1", url)
	assert.Equal(t, "cus_42", gw.customer)
}

func TestPortal_NoProfile(t *testing.T) {
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{}}
	svc := newGrantService(store, &fakeMail{}, &fakePortalGateway{})

	_, svcErr := svc.CreatePortalSession(context.Background(), "user-x")

	assert.NotNil(t, svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)
}

func TestPortal_NoCustomerReference(t *testing.T) {
	profile := memberProfile()
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{"user-7": profile}}
	svc := newGrantService(store, &fakeMail{}, &fakePortalGateway{})

	_, svcErr := svc.CreatePortalSession(context.Background(), "user-7")

	assert.NotNil(t, svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)
}

func TestPortal_ProviderError(t *testing.T) {
	profile := memberProfile()
	cust := "cus_42"
	profile.StripeCustomerID = &cust
	store := &fakeProfileStore{profiles: map[string]*models.MembershipProfile{"user-7": profile}}
	svc := newGrantService(store, &fakeMail{}, &fakePortalGateway{err: errors.New("stripe down")})

	_, svcErr := svc.CreatePortalSession(context.Background(), "user-7")

	assert.NotNil(t, svcErr)
	assert.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
}
