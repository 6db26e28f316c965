// Package service реализует бизнес-логику сервиса витрины.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/payment"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/validation"
)

// ErrPaymentFailed возвращается, если платёж не был подтверждён провайдером.
// Заказ в этом случае не создаётся, корзина остаётся нетронутой.
var (
	ErrPaymentFailed = errors.New("payment authorization failed")
	// ErrInvalidPaymentMethod возвращается при неизвестном способе оплаты.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrInvalidQuantity возвращается при недопустимом количестве товара.
	ErrInvalidQuantity = errors.New("qty must be a positive integer")
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidAmount возвращается при недопустимой сумме платежа.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Таймаут одного обращения к платёжному провайдеру при оформлении заказа.
const paymentAuthTimeout = 5 * time.Second

// Число попыток оформить заказ при коллизии сгенерированного номера.
const orderNumberAttempts = 3

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, email string, passwordHash []byte) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetProducts(ctx context.Context, limit, offset int) ([]model.Product, error)
	GetProductByID(ctx context.Context, id int64) (*model.Product, error)
	GetCartItems(ctx context.Context, userID int64) ([]model.CartItem, error)
	AddCartItem(ctx context.Context, userID, productID int64, qty int32) error
	UpdateCartItem(ctx context.Context, userID, productID int64, qty int32) error
	RemoveCartItem(ctx context.Context, userID, productID int64) error
	CreateOrder(ctx context.Context, userID int64, shipping model.ShippingDetails, orderNumber string,
		paymentMethod model.PaymentMethod, paymentStatus model.PaymentStatus, providerPaymentID string) (*model.OrderSummary, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetOrderByID(ctx context.Context, userID, orderID int64) (*model.OrderDetail, error)
}

// PaymentClient описывает контракт платёжного провайдера.
type PaymentClient interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, userID int64) (*payment.Intent, error)
	GetIntent(ctx context.Context, intentID string) (*payment.Intent, error)
}

// Service содержит бизнес-логику сервиса витрины.
type Service struct {
	repo     Repository
	payments PaymentClient
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом
// платёжного провайдера.
func NewService(repo Repository, payments PaymentClient) *Service {
	return &Service{
		repo:     repo,
		payments: payments,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового покупателя.
func (s *Service) RegisterUser(ctx context.Context, email, password string) (int64, error) {
	if !validation.IsValidEmail(email) {
		return 0, fmt.Errorf("%w: %s", validation.ErrInvalidEmail, email)
	}

	hashed := hashPassword(email, password)
	id, err := s.repo.CreateUser(ctx, email, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет email и пароль покупателя и возвращает его
// идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (int64, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(email, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// GetProducts возвращает страницу товаров каталога.
func (s *Service) GetProducts(ctx context.Context, limit, offset int) ([]model.Product, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.GetProducts(ctx, limit, offset)
}

// GetProductByID возвращает товар каталога по идентификатору.
func (s *Service) GetProductByID(ctx context.Context, id int64) (*model.Product, error) {
	return s.repo.GetProductByID(ctx, id)
}

// GetCartItems возвращает содержимое корзины покупателя.
func (s *Service) GetCartItems(ctx context.Context, userID int64) ([]model.CartItem, error) {
	return s.repo.GetCartItems(ctx, userID)
}

// AddCartItem добавляет товар в корзину покупателя.
func (s *Service) AddCartItem(ctx context.Context, userID, productID int64, qty int32) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	return s.repo.AddCartItem(ctx, userID, productID, qty)
}

// UpdateCartItem устанавливает количество позиции корзины.
func (s *Service) UpdateCartItem(ctx context.Context, userID, productID int64, qty int32) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	return s.repo.UpdateCartItem(ctx, userID, productID, qty)
}

// RemoveCartItem удаляет позицию из корзины покупателя.
func (s *Service) RemoveCartItem(ctx context.Context, userID, productID int64) error {
	return s.repo.RemoveCartItem(ctx, userID, productID)
}

// CreatePaymentIntent создаёт платёжный интент у провайдера и возвращает
// клиентский секрет для подтверждения оплаты на стороне браузера.
func (s *Service) CreatePaymentIntent(ctx context.Context, userID, amountCents int64, currency string) (string, error) {
	if amountCents <= 0 {
		return "", ErrInvalidAmount
	}
	if s.payments == nil {
		return "", errors.New("payment provider not configured")
	}
	if currency == "" {
		currency = "USD"
	}

	ctx, cancel := context.WithTimeout(ctx, paymentAuthTimeout)
	defer cancel()

	intent, err := s.payments.CreateIntent(ctx, amountCents, currency, userID)
	if err != nil {
		return "", fmt.Errorf("create payment intent: %w", err)
	}

	return intent.ClientSecret, nil
}

// PlaceOrder оформляет заказ из текущей корзины покупателя.
//
// Для оплаты картой платёж подтверждается у провайдера до начала каких-либо
// записей в БД: неподтверждённый платёж означает, что заказ не создаётся и
// корзина не меняется. Обратная ситуация — сбой записи после успешного
// списания — не компенсируется автоматически и требует ручной сверки.
func (s *Service) PlaceOrder(
	ctx context.Context,
	userID int64,
	shipping model.ShippingDetails,
	paymentMethod model.PaymentMethod,
	paymentIntentID string,
) (*model.OrderSummary, error) {
	if err := validation.ValidateShipping(shipping); err != nil {
		return nil, err
	}

	if paymentMethod == "" {
		paymentMethod = model.PaymentMethodCOD
	}
	if !paymentMethod.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPaymentMethod, paymentMethod)
	}

	paymentStatus := model.PaymentStatusPending
	if paymentMethod == model.PaymentMethodCard {
		if err := s.confirmCardPayment(ctx, paymentIntentID); err != nil {
			return nil, err
		}
		paymentStatus = model.PaymentStatusPaid
	}

	// Коллизия случайного номера заказа маловероятна, но ограничение
	// уникальности в БД её отлавливает; повтор с новым номером безопасен,
	// так как вся транзакция откатывается целиком.
	var summary *model.OrderSummary
	backoff := retry.WithMaxRetries(orderNumberAttempts-1, retry.NewConstant(10*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		number, err := generateOrderNumber()
		if err != nil {
			return err
		}

		res, err := s.repo.CreateOrder(ctx, userID, shipping, number, paymentMethod, paymentStatus, paymentIntentID)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNumberTaken) {
				return retry.RetryableError(err)
			}
			return err
		}

		summary = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	return summary, nil
}

func (s *Service) confirmCardPayment(ctx context.Context, paymentIntentID string) error {
	if paymentIntentID == "" {
		return fmt.Errorf("%w: missing payment intent id", ErrPaymentFailed)
	}
	if s.payments == nil {
		return fmt.Errorf("%w: payment provider not configured", ErrPaymentFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, paymentAuthTimeout)
	defer cancel()

	intent, err := s.payments.GetIntent(ctx, paymentIntentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	if intent.Status != payment.IntentStatusSucceeded {
		return fmt.Errorf("%w: intent status %s", ErrPaymentFailed, intent.Status)
	}

	return nil
}

// GetOrdersByUser возвращает заказы покупателя, новые первыми.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// GetOrderByID возвращает заказ покупателя с адресом, позициями и платежами.
func (s *Service) GetOrderByID(ctx context.Context, userID, orderID int64) (*model.OrderDetail, error) {
	return s.repo.GetOrderByID(ctx, userID, orderID)
}

const orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// generateOrderNumber возвращает человекочитаемый номер заказа вида
// ORD-XXXXXX из шести случайных символов base36.
func generateOrderNumber() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}

	for i := range b {
		b[i] = orderNumberAlphabet[int(b[i])%len(orderNumberAlphabet)]
	}

	return "ORD-" + string(b), nil
}
