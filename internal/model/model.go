// Package model содержит доменные сущности сервиса витрины интернет-магазина.
package model

import "time"

// User представляет зарегистрированного покупателя.
type User struct {
	ID           int64
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Product описывает товар каталога.
type Product struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

// CartItem описывает позицию корзины вместе с актуальными данными товара.
type CartItem struct {
	ProductID  int64  `json:"product_id"`
	Qty        int32  `json:"qty"`
	Title      string `json:"title"`
	Thumbnail  string `json:"thumbnail,omitempty"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
}

// ShippingDetails содержит данные доставки, передаваемые при оформлении заказа.
type ShippingDetails struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Line1     string `json:"line1"`
	City      string `json:"city"`
	Zip       string `json:"zip"`
}

// Address представляет снимок адреса доставки на момент оформления заказа.
// Снимок никогда не редактируется: каждый заказ получает собственную запись,
// даже если она совпадает с предыдущей.
type Address struct {
	ID        int64
	UserID    int64
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Line1     string
	City      string
	Zip       string
	CreatedAt time.Time
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCOD  PaymentMethod = "COD"
	PaymentMethodCard PaymentMethod = "CARD"
)

// Valid сообщает, является ли значение допустимым способом оплаты.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodCard
}

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// OrderStatus описывает стадию выполнения заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Order представляет заголовок заказа. После создания изменяются только
// статус выполнения и статус оплаты.
type Order struct {
	ID            int64
	UserID        int64
	OrderNumber   string
	AddressID     int64
	SubtotalCents int64
	ShippingCents int64
	TaxCents      int64
	TotalCents    int64
	Currency      string
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	Status        OrderStatus
	CreatedAt     time.Time
}

// OrderItem представляет денормализованную позицию заказа: название и цена
// копируются из каталога на момент оформления, чтобы история заказов
// оставалась точной после изменения или удаления товара.
type OrderItem struct {
	ProductID     int64  `json:"product_id"`
	Title         string `json:"title"`
	PriceCents    int64  `json:"price_cents"`
	Qty           int32  `json:"qty"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

// Payment описывает запись об оплате картой. Для заказов с оплатой при
// получении запись не создаётся.
type Payment struct {
	Provider          string    `json:"provider"`
	ProviderPaymentID string    `json:"provider_payment_id,omitempty"`
	AmountCents       int64     `json:"amount_cents"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// OrderSummary содержит данные созданного заказа, возвращаемые после
// успешного оформления.
type OrderSummary struct {
	ID            int64         `json:"id"`
	OrderNumber   string        `json:"order_number"`
	TotalCents    int64         `json:"total_cents"`
	Currency      string        `json:"currency"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

// OrderDetail объединяет заголовок заказа, снимок адреса, позиции и платежи.
type OrderDetail struct {
	Order    Order
	Address  Address
	Items    []OrderItem
	Payments []Payment
}

// TaxRatePercent — ставка налога, применяемая к промежуточной сумме заказа.
const TaxRatePercent = 8

// OrderTotals содержит расчётные суммы заказа в минорных единицах валюты.
type OrderTotals struct {
	SubtotalCents int64
	ShippingCents int64
	TaxCents      int64
	TotalCents    int64
}

// ComputeOrderTotals вычисляет суммы заказа по его позициям. Расчёт ведётся
// только в целых центах: налог округляется арифметически (половина вверх),
// доставка по действующей политике всегда бесплатна.
func ComputeOrderTotals(items []OrderItem) OrderTotals {
	var subtotal int64
	for _, it := range items {
		subtotal += it.SubtotalCents
	}

	tax := (subtotal*TaxRatePercent + 50) / 100

	return OrderTotals{
		SubtotalCents: subtotal,
		ShippingCents: 0,
		TaxCents:      tax,
		TotalCents:    subtotal + tax,
	}
}
