package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/meinhoongagan/service-marketplace/controllers"
	"github.com/meinhoongagan/service-marketplace/db"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/marketplace"
	"github.com/meinhoongagan/service-marketplace/middleware"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type api struct {
	t      *testing.T
	app    *fiber.App
	tables *models.Tables
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := zaptest.NewLogger(t)
	tables := models.NewTables(db.NewStore(db.NewMemoryBackend(), log))
	dispatcher := notify.NewDispatcher(tables, log)

	h := controllers.New(controllers.Deps{
		Bookings: lifecycle.NewManager(tables, dispatcher, log,
			lifecycle.WithOTPGenerator(func() (string, error) { return "123456", nil })),
		Market:        marketplace.New(tables, dispatcher, log, marketplace.WithHashCost(bcrypt.MinCost)),
		Notifications: dispatcher,
		Auth:          middleware.NewAuth("test-secret", time.Hour, 24*time.Hour, tables.Users, log),
		Log:           log,
	})
	app := fiber.New()
	Setup(app, h)
	return &api{t: t, app: app, tables: tables}
}

// do sends a JSON request and decodes the JSON response into out when it is
// non-nil.
func (a *api) do(method, path, token string, body, out any) int {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type tokens struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"user"`
}

func (a *api) register(name, email, role string) tokens {
	a.t.Helper()
	var tok tokens
	status := a.do(http.MethodPost, "/auth/register", "", fiber.Map{
		"name": name, "email": email, "contact_number": "01700000000", "password": "secret123", "role": role,
	}, &tok)
	require.Equal(a.t, http.StatusCreated, status)
	return tok
}

func (a *api) admin() tokens {
	a.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("adminpass"), bcrypt.MinCost)
	require.NoError(a.t, err)
	_, err = a.tables.Users.Insert(context.Background(), models.User{
		Name: "Admin", Email: "admin@example.com", PasswordHash: string(hash),
		Role: models.RoleAdmin, Status: models.UserActive,
	})
	require.NoError(a.t, err)
	var tok tokens
	status := a.do(http.MethodPost, "/auth/login", "", fiber.Map{"email": "admin@example.com", "password": "adminpass"}, &tok)
	require.Equal(a.t, http.StatusOK, status)
	return tok
}

func TestAuthRoutes(t *testing.T) {
	a := newAPI(t)
	user := a.register("Rahim", "rahim@example.com", "user")
	assert.Empty(t, user.User.PasswordHash)

	var errBody map[string]any
	status := a.do(http.MethodPost, "/auth/register", "", fiber.Map{
		"name": "X", "email": "not-an-email", "password": "1",
	}, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errBody["message"], "email")

	status = a.do(http.MethodPost, "/auth/register", "", fiber.Map{
		"name": "Rahim", "email": "rahim@example.com", "contact_number": "1", "password": "secret123",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	status = a.do(http.MethodPost, "/auth/login", "", fiber.Map{"email": "rahim@example.com", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	var me models.User
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/auth/me", user.AccessToken, nil, &me))
	assert.Equal(t, "rahim@example.com", me.Email)

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/auth/me", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/auth/me", user.RefreshToken, nil, nil),
		"refresh tokens are not access tokens")

	var refreshed tokens
	status = a.do(http.MethodPost, "/auth/refresh", "", fiber.Map{"refresh_token": user.RefreshToken}, &refreshed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/auth/me", refreshed.AccessToken, nil, nil))

	status = a.do(http.MethodPost, "/auth/refresh", "", fiber.Map{"refresh_token": user.AccessToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestBookingFlow(t *testing.T) {
	a := newAPI(t)
	admin := a.admin()
	provider := a.register("Karim", "karim@example.com", "service_provider")
	user := a.register("Rahim", "rahim@example.com", "user")

	var cat models.ServiceCategory
	status := a.do(http.MethodPost, "/admin/categories", admin.AccessToken, fiber.Map{"category_name": "Plumbing", "is_active": true}, &cat)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/admin/categories", provider.AccessToken, fiber.Map{"category_name": "X"}, nil))

	var svc models.Service
	status = a.do(http.MethodPost, "/services/", provider.AccessToken, fiber.Map{
		"category_id": cat.ID, "service_name": "Pipe repair", "price": 200, "location": "Dhaka",
	}, &svc)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, models.ServicePendingApproval, svc.Status)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/services/", user.AccessToken, fiber.Map{
		"category_id": cat.ID, "service_name": "Nope", "location": "Dhaka",
	}, nil))

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, fmt.Sprintf("/admin/services/%d/approve", svc.ID), admin.AccessToken, nil, nil))

	var listings []marketplace.Listing
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/services/?q=pipe", "", nil, &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "Karim", listings[0].ProviderName)

	var view lifecycle.BookingView
	status = a.do(http.MethodPost, "/bookings/", user.AccessToken, fiber.Map{
		"service_id": svc.ID, "service_date": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
		"payment_method": "bKash", "location": "Dhaka", "contact_number": "01700000000",
	}, &view)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, view.Payment)
	assert.Equal(t, 220.0, view.Payment.TotalAmount)
	path := fmt.Sprintf("/bookings/%d", view.Booking.ID)

	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, path+"/accept", user.AccessToken, nil, nil))
	var booking models.Booking
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, path+"/accept", provider.AccessToken, nil, &booking))
	assert.Equal(t, models.BookingAccepted, booking.BookingStatus)
	assert.Empty(t, booking.OTPCode)
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, path+"/cancel", user.AccessToken, nil, nil))

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, path+"/confirm-payment", user.AccessToken, nil, nil))

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, path+"/complete", provider.AccessToken, fiber.Map{"otp": "12"}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, a.do(http.MethodPost, path+"/complete", provider.AccessToken, fiber.Map{"otp": "654321"}, nil))
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, path+"/complete", provider.AccessToken, fiber.Map{"otp": "123456"}, &booking))
	assert.Equal(t, models.BookingCompleted, booking.BookingStatus)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, path+"/review", user.AccessToken, fiber.Map{"rating": 6}, nil))
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, path+"/review", user.AccessToken, fiber.Map{"rating": 5, "comment": "great"}, nil))
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, path+"/review", user.AccessToken, fiber.Map{"rating": 4}, nil))

	require.Equal(t, http.StatusOK, a.do(http.MethodGet, path, user.AccessToken, nil, &view))
	assert.Equal(t, models.PaymentCompleted, view.Payment.PaymentStatus)
	require.NotNil(t, view.Review)
	assert.Equal(t, 5, view.Review.Rating)

	outsider := a.register("Other", "other@example.com", "user")
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, path, outsider.AccessToken, nil, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/bookings/abc", user.AccessToken, nil, nil))

	var notes []models.Notification
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/notifications/?unread=true", provider.AccessToken, nil, &notes))
	assert.NotEmpty(t, notes)
	var marked map[string]int
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/notifications/read", provider.AccessToken, nil, &marked))
	assert.Equal(t, len(notes), marked["marked_read"])
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/notifications/recent?limit=2", provider.AccessToken, nil, &notes))
	assert.Len(t, notes, 2)

	var anomalies []lifecycle.Anomaly
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/admin/anomalies", admin.AccessToken, nil, &anomalies))
	assert.Empty(t, anomalies)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/admin/anomalies", user.AccessToken, nil, nil))
}

func TestChatAndSupportRoutes(t *testing.T) {
	a := newAPI(t)
	admin := a.admin()
	provider := a.register("Karim", "karim@example.com", "service_provider")
	user := a.register("Rahim", "rahim@example.com", "user")
	ctx := context.Background()

	cat, err := a.tables.Categories.Insert(ctx, models.ServiceCategory{CategoryName: "Home", IsActive: true})
	require.NoError(t, err)
	svc, err := a.tables.Services.Insert(ctx, models.Service{
		ProviderID: provider.User.ID, CategoryID: cat.ID, ServiceName: "Cleaning", Price: 100, Status: models.ServiceActive,
	})
	require.NoError(t, err)
	b, err := a.tables.Bookings.Insert(ctx, models.Booking{
		UserID: user.User.ID, ProviderID: provider.User.ID, ServiceID: svc.ID,
		BookingStatus: models.BookingPending, ServiceDate: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	chat := fmt.Sprintf("/chat/%d", b.ID)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, chat, user.AccessToken, fiber.Map{"content": ""}, nil))
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, chat, user.AccessToken, fiber.Map{"content": "hello"}, nil))
	var msgs []models.ChatMessage
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, chat, provider.AccessToken, nil, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, http.StatusConflict, a.do(http.MethodGet, chat, admin.AccessToken, nil, nil))

	var ticket models.SupportTicket
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/support/", user.AccessToken, fiber.Map{"issue": "refund please"}, &ticket))
	ticketPath := fmt.Sprintf("/admin/support/%d/status", ticket.ID)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, ticketPath, admin.AccessToken, fiber.Map{"status": "done"}, nil))
	require.Equal(t, http.StatusOK, a.do(http.MethodPut, ticketPath, admin.AccessToken, fiber.Map{"status": "resolved"}, &ticket))
	assert.Equal(t, models.TicketResolved, ticket.Status)

	var setting models.PlatformSetting
	require.Equal(t, http.StatusOK, a.do(http.MethodPut, "/admin/settings/platform_fee_percentage", admin.AccessToken, fiber.Map{"value": "12.5"}, &setting))
	assert.Equal(t, "12.5", setting.SettingValue)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, "/admin/settings/platform_fee_percentage", admin.AccessToken, fiber.Map{"value": "150"}, nil))

	var page struct {
		Entries []models.ActivityLog `json:"entries"`
		Total   int                  `json:"total"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/admin/activity-log", admin.AccessToken, nil, &page))
	assert.Equal(t, 2, page.Total)

	assert.Equal(t, http.StatusServiceUnavailable, a.do(http.MethodPatch, "/profile/picture", user.AccessToken, nil, nil))
}

func TestDashboardProfileAndAdminUserRoutes(t *testing.T) {
	a := newAPI(t)
	provider := a.register("Karim", "karim@example.com", "service_provider")
	user := a.register("Rahim", "rahim@example.com", "user")
	admin := a.admin()

	var dash map[string]any
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/dashboard", user.AccessToken, nil, &dash))
	assert.Contains(t, dash, "total_bookings")
	assert.NotContains(t, dash, "total_services")
	dash = nil
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/dashboard", provider.AccessToken, nil, &dash))
	assert.Contains(t, dash, "total_services")
	assert.Contains(t, dash, "response_rate")
	dash = nil
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/dashboard", admin.AccessToken, nil, &dash))
	assert.Contains(t, dash, "user_stats")
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/dashboard", "", nil, nil))

	var profile marketplace.PublicProfile
	path := fmt.Sprintf("/profile/%d", provider.User.ID)
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, path, user.AccessToken, nil, &profile))
	assert.Equal(t, "Karim", profile.User.Name)
	assert.Empty(t, profile.User.Email)
	assert.NotNil(t, profile.Provider)
	assert.Equal(t, http.StatusConflict, a.do(http.MethodGet, fmt.Sprintf("/profile/%d", user.User.ID), provider.AccessToken, nil, nil))

	var convs []marketplace.Conversation
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/chat/conversations", user.AccessToken, nil, &convs))
	assert.Empty(t, convs)

	userPath := fmt.Sprintf("/admin/users/%d", user.User.ID)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, userPath, user.AccessToken, nil, nil))
	var detail marketplace.UserDetail
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, userPath, admin.AccessToken, nil, &detail))
	assert.Equal(t, "rahim@example.com", detail.User.Email)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, userPath, admin.AccessToken, fiber.Map{"role": "admin"}, nil))
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPut, userPath, admin.AccessToken, fiber.Map{"email": "karim@example.com"}, nil))
	var edited models.User
	require.Equal(t, http.StatusOK, a.do(http.MethodPut, userPath, admin.AccessToken, fiber.Map{"name": "Rahim Uddin", "nid_verified": true}, &edited))
	assert.Equal(t, "Rahim Uddin", edited.Name)
	assert.True(t, edited.NIDVerified)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, userPath+"/password", admin.AccessToken,
		fiber.Map{"new_password": "fresh-secret", "confirm_password": "other-secret"}, nil))
	require.Equal(t, http.StatusOK, a.do(http.MethodPut, userPath+"/password", admin.AccessToken,
		fiber.Map{"new_password": "fresh-secret", "confirm_password": "fresh-secret"}, nil))
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/auth/login", "", fiber.Map{"email": "rahim@example.com", "password": "secret123"}, nil))
	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/auth/login", "", fiber.Map{"email": "rahim@example.com", "password": "fresh-secret"}, nil))
}
