package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/middleware"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/service"
	"github.com/mmeshcher/storefront-system/internal/validation"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	products    []model.Product
	productsErr error

	product    *model.Product
	productErr error

	cartItems    []model.CartItem
	cartItemsErr error

	addCartErr    error
	updateCartErr error
	removeCartErr error

	intentSecret string
	intentErr    error

	placeOrderSummary *model.OrderSummary
	placeOrderErr     error

	orders    []model.Order
	ordersErr error

	orderDetail    *model.OrderDetail
	orderDetailErr error
}

func (s *stubService) RegisterUser(ctx context.Context, email, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, email, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) GetProducts(ctx context.Context, limit, offset int) ([]model.Product, error) {
	return s.products, s.productsErr
}

func (s *stubService) GetProductByID(ctx context.Context, id int64) (*model.Product, error) {
	return s.product, s.productErr
}

func (s *stubService) GetCartItems(ctx context.Context, userID int64) ([]model.CartItem, error) {
	return s.cartItems, s.cartItemsErr
}

func (s *stubService) AddCartItem(ctx context.Context, userID, productID int64, qty int32) error {
	return s.addCartErr
}

func (s *stubService) UpdateCartItem(ctx context.Context, userID, productID int64, qty int32) error {
	return s.updateCartErr
}

func (s *stubService) RemoveCartItem(ctx context.Context, userID, productID int64) error {
	return s.removeCartErr
}

func (s *stubService) CreatePaymentIntent(ctx context.Context, userID, amountCents int64, currency string) (string, error) {
	return s.intentSecret, s.intentErr
}

func (s *stubService) PlaceOrder(ctx context.Context, userID int64, shipping model.ShippingDetails,
	paymentMethod model.PaymentMethod, paymentIntentID string) (*model.OrderSummary, error) {
	return s.placeOrderSummary, s.placeOrderErr
}

func (s *stubService) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.orders, s.ordersErr
}

func (s *stubService) GetOrderByID(ctx context.Context, userID, orderID int64) (*model.OrderDetail, error) {
	return s.orderDetail, s.orderDetailErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func authedRequest(t *testing.T, h *Handler, method, target string, body []byte) *http.Request {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, 1)
	req.AddCookie(rec.Result().Cookies()[0])

	return req
}

func checkoutBody(t *testing.T) []byte {
	t.Helper()

	body, err := json.Marshal(checkoutRequest{
		Shipping: model.ShippingDetails{
			FirstName: "Ivan",
			LastName:  "Petrov",
			Email:     "ivan@example.com",
			Line1:     "Lenina 1",
			City:      "Moscow",
		},
		PaymentMethod: "COD",
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func TestRegister_Created(t *testing.T) {
	svc := &stubService{registerUserID: 42}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Email: "user@example.com", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	if len(res.Cookies()) == 0 {
		t.Fatalf("auth cookie not set on register")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{registerErr: repository.ErrUserExists}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Email: "user@example.com", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{authErr: service.ErrInvalidCredentials}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Email: "user@example.com", Password: "wrong"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestCheckout_Success(t *testing.T) {
	svc := &stubService{
		placeOrderSummary: &model.OrderSummary{
			ID:            7,
			OrderNumber:   "ORD-A1B2C3",
			TotalCents:    2700,
			Currency:      "USD",
			PaymentMethod: model.PaymentMethodCOD,
			PaymentStatus: model.PaymentStatusPending,
		},
	}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodPost, "/api/checkout", checkoutBody(t))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.Checkout)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp checkoutResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.OrderNumber != "ORD-A1B2C3" {
		t.Fatalf("order number = %q, want ORD-A1B2C3", resp.Order.OrderNumber)
	}
	if resp.Order.TotalCents != 2700 {
		t.Fatalf("total = %d, want 2700", resp.Order.TotalCents)
	}
}

func TestCheckout_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewReader(checkoutBody(t)))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.Checkout)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	svc := &stubService{placeOrderErr: repository.ErrCartEmpty}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodPost, "/api/checkout", checkoutBody(t))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.Checkout)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	var resp errorResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error.Message != "Cart is empty" {
		t.Fatalf("message = %q, want Cart is empty", resp.Error.Message)
	}
}

func TestCheckout_MissingShipping(t *testing.T) {
	svc := &stubService{placeOrderErr: validation.ErrMissingField}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodPost, "/api/checkout", checkoutBody(t))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.Checkout)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestCheckout_PaymentFailed(t *testing.T) {
	svc := &stubService{placeOrderErr: service.ErrPaymentFailed}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodPost, "/api/checkout", checkoutBody(t))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.Checkout)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusPaymentRequired)
	}
}

func TestCheckout_ProductUnavailable(t *testing.T) {
	svc := &stubService{placeOrderErr: repository.ErrProductUnavailable}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodPost, "/api/checkout", checkoutBody(t))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.Checkout)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestGetOrders_JSONResponse(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubService{
		orders: []model.Order{
			{
				ID:            1,
				OrderNumber:   "ORD-XYZ123",
				SubtotalCents: 2500,
				TaxCents:      200,
				TotalCents:    2700,
				Currency:      "USD",
				PaymentMethod: model.PaymentMethodCOD,
				PaymentStatus: model.PaymentStatusPending,
				Status:        model.OrderStatusPending,
				CreatedAt:     now,
			},
		},
	}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.GetOrders)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp struct {
		Orders []orderResponse `json:"orders"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Orders) != 1 || resp.Orders[0].OrderNumber != "ORD-XYZ123" {
		t.Fatalf("unexpected orders: %+v", resp.Orders)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	svc := &stubService{orderDetailErr: repository.ErrOrderNotFound}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodGet, "/api/orders/99", nil)
	rec := httptest.NewRecorder()

	router := h.SetupRouter()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestGetCart_EmptyArray(t *testing.T) {
	svc := &stubService{cartItems: nil}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodGet, "/api/cart", nil)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.GetCart)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp struct {
		Data []model.CartItem `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data == nil {
		t.Fatalf("data must be an empty array, not null")
	}
}

func TestAddCartItem_ProductNotFound(t *testing.T) {
	svc := &stubService{addCartErr: repository.ErrProductNotFound}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(addCartItemRequest{ProductID: 42, Qty: 1})
	req := authedRequest(t, h, http.MethodPost, "/api/cart/items", body)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.AddCartItem)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestCreatePaymentIntent_ReturnsSecret(t *testing.T) {
	svc := &stubService{intentSecret: "pi_1_secret"}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(paymentIntentRequest{AmountCents: 2700, Currency: "USD"})
	req := authedRequest(t, h, http.MethodPost, "/api/payments/intent", body)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.CreatePaymentIntent)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["client_secret"] != "pi_1_secret" {
		t.Fatalf("client_secret = %q, want pi_1_secret", resp["client_secret"])
	}
}
