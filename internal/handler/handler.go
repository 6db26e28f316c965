// Package handler содержит HTTP-обработчики API сервиса витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/middleware"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/service"
	"github.com/mmeshcher/storefront-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, password string) (int64, error)
	AuthenticateUser(ctx context.Context, email, password string) (int64, error)
	GetProducts(ctx context.Context, limit, offset int) ([]model.Product, error)
	GetProductByID(ctx context.Context, id int64) (*model.Product, error)
	GetCartItems(ctx context.Context, userID int64) ([]model.CartItem, error)
	AddCartItem(ctx context.Context, userID, productID int64, qty int32) error
	UpdateCartItem(ctx context.Context, userID, productID int64, qty int32) error
	RemoveCartItem(ctx context.Context, userID, productID int64) error
	CreatePaymentIntent(ctx context.Context, userID, amountCents int64, currency string) (string, error)
	PlaceOrder(ctx context.Context, userID int64, shipping model.ShippingDetails,
		paymentMethod model.PaymentMethod, paymentIntentID string) (*model.OrderSummary, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetOrderByID(ctx context.Context, userID, orderID int64) (*model.OrderDetail, error)
}

// Handler реализует HTTP-обработчики API сервиса витрины.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: errorPayload{Code: code, Message: message}})
}

// Health сообщает о готовности сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового покупателя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserExists):
			writeError(w, http.StatusConflict, "An account with this email already exists")
		case errors.Is(err, validation.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "Invalid email address")
		default:
			h.logger.Error("register user error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	writeJSON(w, http.StatusCreated, map[string]int64{"id": userID})
}

// Login выполняет аутентификацию покупателя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	writeJSON(w, http.StatusOK, map[string]int64{"id": userID})
}

// GetProducts возвращает страницу товаров каталога.
func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	products, err := h.service.GetProducts(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("get products error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if products == nil {
		products = []model.Product{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": products})
}

// GetProduct возвращает товар каталога по идентификатору.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid product id")
		return
	}

	product, err := h.service.GetProductByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "Product not found")
			return
		}
		h.logger.Error("get product error", zap.Error(err), zap.Int64("productID", id))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": product})
}

// GetCart возвращает содержимое корзины текущего покупателя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "You must be signed in to access this resource")
		return
	}

	items, err := h.service.GetCartItems(r.Context(), userID)
	if err != nil {
		h.logger.Error("get cart error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if items == nil {
		items = []model.CartItem{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": items})
}

type addCartItemRequest struct {
	ProductID int64 `json:"product_id"`
	Qty       int32 `json:"qty"`
}

// AddCartItem добавляет товар в корзину текущего покупателя.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "You must be signed in to access this resource")
		return
	}

	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ProductID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid product_id")
		return
	}
	if req.Qty == 0 {
		req.Qty = 1
	}

	err := h.service.AddCartItem(r.Context(), userID, req.ProductID, req.Qty)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidQuantity):
			writeError(w, http.StatusBadRequest, "qty must be a positive integer")
		case errors.Is(err, repository.ErrProductNotFound):
			writeError(w, http.StatusNotFound, "Product not found")
		default:
			h.logger.Error("add cart item error", zap.Error(err), zap.Int64("userID", userID))
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

type updateCartItemRequest struct {
	Qty int32 `json:"qty"`
}

// UpdateCartItem устанавливает количество позиции в корзине покупателя.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "You must be signed in to access this resource")
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid productId")
		return
	}

	var req updateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err = h.service.UpdateCartItem(r.Context(), userID, productID, req.Qty)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidQuantity):
			writeError(w, http.StatusBadRequest, "qty must be >= 1")
		case errors.Is(err, repository.ErrCartItemNotFound):
			writeError(w, http.StatusNotFound, "Item not found in cart")
		default:
			h.logger.Error("update cart item error", zap.Error(err), zap.Int64("userID", userID))
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RemoveCartItem удаляет позицию из корзины покупателя.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "You must be signed in to access this resource")
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid productId")
		return
	}

	if err := h.service.RemoveCartItem(r.Context(), userID, productID); err != nil {
		h.logger.Error("remove cart item error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type paymentIntentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// CreatePaymentIntent создаёт платёжный интент для оплаты картой.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "You must be signed in to access this resource")
		return
	}

	var req paymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	secret, err := h.service.CreatePaymentIntent(r.Context(), userID, req.AmountCents, req.Currency)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "Invalid amount")
			return
		}
		h.logger.Error("create payment intent error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"client_secret": secret})
}

type checkoutRequest struct {
	Shipping              model.ShippingDetails `json:"shipping"`
	PaymentMethod         string                `json:"payment_method"`
	StripePaymentIntentID string                `json:"stripe_payment_intent_id"`
}

type checkoutResponse struct {
	Order model.OrderSummary `json:"order"`
}

// Checkout оформляет заказ из корзины текущего покупателя.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "You must be signed in to access this resource")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	summary, err := h.service.PlaceOrder(r.Context(), userID, req.Shipping,
		model.PaymentMethod(req.PaymentMethod), req.StripePaymentIntentID)
	if err != nil {
		switch {
		case errors.Is(err, validation.ErrMissingField), errors.Is(err, validation.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "Missing shipping information")
		case errors.Is(err, service.ErrInvalidPaymentMethod):
			writeError(w, http.StatusBadRequest, "Invalid payment method")
		case errors.Is(err, repository.ErrCartEmpty):
			writeError(w, http.StatusBadRequest, "Cart is empty")
		case errors.Is(err, repository.ErrProductUnavailable):
			writeError(w, http.StatusConflict, "A product in your cart is no longer available")
		case errors.Is(err, service.ErrPaymentFailed):
			writeError(w, http.StatusPaymentRequired, "Payment was not completed")
		default:
			if model.PaymentMethod(req.PaymentMethod) == model.PaymentMethodCard {
				// Списание уже подтверждено, а заказ не записан: автоматический
				// возврат не выполняется, случай разбирается вручную.
				h.logger.Error("checkout failed after confirmed card payment, manual reconciliation required",
					zap.Error(err),
					zap.Int64("userID", userID),
					zap.String("paymentIntentID", req.StripePaymentIntentID),
				)
			} else {
				h.logger.Error("checkout error", zap.Error(err), zap.Int64("userID", userID))
			}
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{Order: *summary})
}

type orderResponse struct {
	ID            int64  `json:"id"`
	OrderNumber   string `json:"order_number"`
	SubtotalCents int64  `json:"subtotal_cents"`
	ShippingCents int64  `json:"shipping_cents"`
	TaxCents      int64  `json:"tax_cents"`
	TotalCents    int64  `json:"total_cents"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
	PaymentStatus string `json:"payment_status"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

// GetOrders возвращает список заказов текущего покупателя, новые первыми.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "You must be signed in to access this resource")
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderResponse{
			ID:            o.ID,
			OrderNumber:   o.OrderNumber,
			SubtotalCents: o.SubtotalCents,
			ShippingCents: o.ShippingCents,
			TaxCents:      o.TaxCents,
			TotalCents:    o.TotalCents,
			Currency:      o.Currency,
			PaymentMethod: string(o.PaymentMethod),
			PaymentStatus: string(o.PaymentStatus),
			Status:        string(o.Status),
			CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": resp})
}

type addressResponse struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Line1     string `json:"line1"`
	City      string `json:"city"`
	Zip       string `json:"zip,omitempty"`
}

type orderDetailResponse struct {
	Order    orderResponse     `json:"order"`
	Address  addressResponse   `json:"address"`
	Items    []model.OrderItem `json:"items"`
	Payments []model.Payment   `json:"payments"`
}

// GetOrder возвращает заказ текущего покупателя со снимком адреса, позициями
// и платежами. Чужие заказы неотличимы от несуществующих.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "You must be signed in to access this resource")
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || orderID <= 0 {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}

	detail, err := h.service.GetOrderByID(r.Context(), userID, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.Int64("userID", userID), zap.Int64("orderID", orderID))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	items := detail.Items
	if items == nil {
		items = []model.OrderItem{}
	}
	payments := detail.Payments
	if payments == nil {
		payments = []model.Payment{}
	}

	writeJSON(w, http.StatusOK, orderDetailResponse{
		Order: orderResponse{
			ID:            detail.Order.ID,
			OrderNumber:   detail.Order.OrderNumber,
			SubtotalCents: detail.Order.SubtotalCents,
			ShippingCents: detail.Order.ShippingCents,
			TaxCents:      detail.Order.TaxCents,
			TotalCents:    detail.Order.TotalCents,
			Currency:      detail.Order.Currency,
			PaymentMethod: string(detail.Order.PaymentMethod),
			PaymentStatus: string(detail.Order.PaymentStatus),
			Status:        string(detail.Order.Status),
			CreatedAt:     detail.Order.CreatedAt.Format(time.RFC3339),
		},
		Address: addressResponse{
			FirstName: detail.Address.FirstName,
			LastName:  detail.Address.LastName,
			Email:     detail.Address.Email,
			Phone:     detail.Address.Phone,
			Line1:     detail.Address.Line1,
			City:      detail.Address.City,
			Zip:       detail.Address.Zip,
		},
		Items:    items,
		Payments: payments,
	})
}
