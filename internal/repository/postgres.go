// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке зарегистрировать уже занятый email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrCartItemNotFound возвращается, если позиция отсутствует в корзине.
	ErrCartItemNotFound = errors.New("cart item not found")
	// ErrCartEmpty возвращается при попытке оформить заказ с пустой корзиной.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrProductUnavailable возвращается, если позиция корзины ссылается на
	// товар, которого больше нет в каталоге.
	ErrProductUnavailable = errors.New("product no longer available")
	// ErrOrderNumberTaken возвращается при коллизии номера заказа.
	ErrOrderNumberTaken = errors.New("order number already taken")
	// ErrOrderNotFound возвращается, если заказ не существует или принадлежит
	// другому пользователю.
	ErrOrderNotFound = errors.New("order not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при временных ошибках: сбоях сериализации,
// дедлоках и обрывах соединения. Безопасен только для операций, которые
// целиком откатываются при ошибке.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, email string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id`,
		email, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail возвращает пользователя по адресу электронной почты.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`,
		email,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetProducts возвращает страницу товаров каталога, новые первыми.
func (r *PostgresRepository) GetProducts(ctx context.Context, limit, offset int) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, slug, description, thumbnail, price_cents, currency, created_at
		 FROM products
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Title, &p.Slug, &p.Description, &p.Thumbnail, &p.PriceCents, &p.Currency, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// GetProductByID возвращает товар каталога по идентификатору.
func (r *PostgresRepository) GetProductByID(ctx context.Context, id int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, title, slug, description, thumbnail, price_cents, currency, created_at
		 FROM products WHERE id = $1`,
		id,
	)

	var p model.Product
	err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Description, &p.Thumbnail, &p.PriceCents, &p.Currency, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// ensureCart лениво создаёт корзину пользователя при первом обращении.
func ensureCart(ctx context.Context, q interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}, userID int64) error {
	_, err := q.Exec(ctx,
		`INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("ensure cart: %w", err)
	}
	return nil
}

// GetCartItems возвращает содержимое корзины пользователя вместе с
// актуальными данными товаров.
func (r *PostgresRepository) GetCartItems(ctx context.Context, userID int64) ([]model.CartItem, error) {
	if err := ensureCart(ctx, r.pool, userID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT ci.product_id, ci.qty, p.title, p.thumbnail, p.price_cents, p.currency
		 FROM cart_items ci
		 JOIN products p ON p.id = ci.product_id
		 WHERE ci.cart_id = $1
		 ORDER BY p.title`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart items: %w", err)
	}
	defer rows.Close()

	var items []model.CartItem
	for rows.Next() {
		var it model.CartItem
		if err := rows.Scan(&it.ProductID, &it.Qty, &it.Title, &it.Thumbnail, &it.PriceCents, &it.Currency); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// AddCartItem добавляет товар в корзину. Повторное добавление увеличивает
// количество уже существующей позиции.
func (r *PostgresRepository) AddCartItem(ctx context.Context, userID, productID int64, qty int32) error {
	if err := ensureCart(ctx, r.pool, userID); err != nil {
		return err
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO cart_items (cart_id, product_id, qty)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (cart_id, product_id)
		 DO UPDATE SET qty = cart_items.qty + EXCLUDED.qty`,
		userID, productID, qty,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: %d", ErrProductNotFound, productID)
		}
		return fmt.Errorf("insert cart item: %w", err)
	}

	return nil
}

// UpdateCartItem устанавливает количество позиции корзины.
func (r *PostgresRepository) UpdateCartItem(ctx context.Context, userID, productID int64, qty int32) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE cart_items SET qty = $3 WHERE cart_id = $1 AND product_id = $2`,
		userID, productID, qty,
	)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrCartItemNotFound, productID)
	}

	return nil
}

// RemoveCartItem удаляет позицию из корзины. Удаление отсутствующей позиции
// не считается ошибкой.
func (r *PostgresRepository) RemoveCartItem(ctx context.Context, userID, productID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`,
		userID, productID,
	)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

// CreateOrder выполняет оформление заказа как единую транзакцию: снимок
// корзины, вставка адреса, заголовка заказа, позиций, записи об оплате и
// очистка корзины либо выполняются целиком, либо откатываются целиком.
//
// Строка пользователя блокируется FOR UPDATE, поэтому параллельные
// оформления одной корзины сериализуются: второй вызов видит уже пустую
// корзину и завершается ErrCartEmpty.
//
// Валюта заказа берётся из первой позиции корзины; корзины со смешанными
// валютами не поддерживаются.
func (r *PostgresRepository) CreateOrder(
	ctx context.Context,
	userID int64,
	shipping model.ShippingDetails,
	orderNumber string,
	paymentMethod model.PaymentMethod,
	paymentStatus model.PaymentStatus,
	providerPaymentID string,
) (*model.OrderSummary, error) {
	var summary *model.OrderSummary

	err := r.withRetry(ctx, func() error {
		var txErr error
		summary, txErr = r.createOrderTx(ctx, userID, shipping, orderNumber, paymentMethod, paymentStatus, providerPaymentID)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	return summary, nil
}

func (r *PostgresRepository) createOrderTx(
	ctx context.Context,
	userID int64,
	shipping model.ShippingDetails,
	orderNumber string,
	paymentMethod model.PaymentMethod,
	paymentStatus model.PaymentStatus,
	providerPaymentID string,
) (*model.OrderSummary, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Сериализация оформлений одного пользователя.
	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user for update: %w", err)
	}

	if err := ensureCart(ctx, tx, userID); err != nil {
		return nil, err
	}

	// Снимок корзины с актуальными ценами каталога. LEFT JOIN, чтобы позиция
	// с удалённым товаром не исчезла молча, а привела к отказу оформления.
	rows, err := tx.Query(ctx,
		`SELECT ci.product_id, ci.qty, p.title, p.price_cents, p.currency
		 FROM cart_items ci
		 LEFT JOIN products p ON p.id = ci.product_id
		 WHERE ci.cart_id = $1
		 ORDER BY ci.product_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart snapshot: %w", err)
	}

	var items []model.OrderItem
	currency := ""
	for rows.Next() {
		var (
			productID  int64
			qty        int32
			title      *string
			priceCents *int64
			cur        *string
		)
		if err := rows.Scan(&productID, &qty, &title, &priceCents, &cur); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan cart snapshot: %w", err)
		}

		if title == nil || priceCents == nil || cur == nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %d", ErrProductUnavailable, productID)
		}

		if currency == "" {
			currency = *cur
		}

		items = append(items, model.OrderItem{
			ProductID:     productID,
			Title:         *title,
			PriceCents:    *priceCents,
			Qty:           qty,
			SubtotalCents: *priceCents * int64(qty),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(items) == 0 {
		return nil, ErrCartEmpty
	}

	totals := model.ComputeOrderTotals(items)

	var addressID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO addresses (user_id, first_name, last_name, email, phone, line1, city, zip)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''))
		 RETURNING id`,
		userID, shipping.FirstName, shipping.LastName, shipping.Email,
		shipping.Phone, shipping.Line1, shipping.City, shipping.Zip,
	).Scan(&addressID)
	if err != nil {
		return nil, fmt.Errorf("insert address: %w", err)
	}

	var orderID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders
		   (user_id, order_number, address_id,
		    subtotal_cents, shipping_cents, tax_cents, total_cents,
		    currency, payment_method, payment_status, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		userID, orderNumber, addressID,
		totals.SubtotalCents, totals.ShippingCents, totals.TaxCents, totals.TotalCents,
		currency, string(paymentMethod), string(paymentStatus), string(model.OrderStatusPending),
	).Scan(&orderID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrOrderNumberTaken, orderNumber)
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for _, it := range items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, title, price_cents, qty, subtotal_cents)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			orderID, it.ProductID, it.Title, it.PriceCents, it.Qty, it.SubtotalCents,
		)
		if err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
	}

	if paymentMethod == model.PaymentMethodCard {
		_, err = tx.Exec(ctx,
			`INSERT INTO payments (order_id, provider, provider_payment_id, amount_cents, currency, status)
			 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`,
			orderID, "stripe", providerPaymentID, totals.TotalCents, currency, string(paymentStatus),
		)
		if err != nil {
			return nil, fmt.Errorf("insert payment: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &model.OrderSummary{
		ID:            orderID,
		OrderNumber:   orderNumber,
		TotalCents:    totals.TotalCents,
		Currency:      currency,
		PaymentMethod: paymentMethod,
		PaymentStatus: paymentStatus,
	}, nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми, не более 50.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_number, subtotal_cents, shipping_cents, tax_cents, total_cents,
		        currency, payment_method, payment_status, status, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 50`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o := model.Order{UserID: userID}
		var method, status, orderStatus string
		if err := rows.Scan(
			&o.ID, &o.OrderNumber, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
			&o.Currency, &method, &status, &orderStatus, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.PaymentMethod = model.PaymentMethod(method)
		o.PaymentStatus = model.PaymentStatus(status)
		o.Status = model.OrderStatus(orderStatus)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// GetOrderByID возвращает заказ пользователя со снимком адреса, позициями и
// платежами. Чужой или несуществующий заказ даёт ErrOrderNotFound: наличие
// чужих заказов не раскрывается.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, userID, orderID int64) (*model.OrderDetail, error) {
	var (
		detail model.OrderDetail
		method string
		status string
		state  string
		phone  *string
		zip    *string
	)

	err := r.pool.QueryRow(ctx,
		`SELECT o.id, o.order_number, o.address_id,
		        o.subtotal_cents, o.shipping_cents, o.tax_cents, o.total_cents,
		        o.currency, o.payment_method, o.payment_status, o.status, o.created_at,
		        a.first_name, a.last_name, a.email, a.phone, a.line1, a.city, a.zip
		 FROM orders o
		 JOIN addresses a ON a.id = o.address_id
		 WHERE o.id = $1 AND o.user_id = $2`,
		orderID, userID,
	).Scan(
		&detail.Order.ID, &detail.Order.OrderNumber, &detail.Order.AddressID,
		&detail.Order.SubtotalCents, &detail.Order.ShippingCents, &detail.Order.TaxCents, &detail.Order.TotalCents,
		&detail.Order.Currency, &method, &status, &state, &detail.Order.CreatedAt,
		&detail.Address.FirstName, &detail.Address.LastName, &detail.Address.Email,
		&phone, &detail.Address.Line1, &detail.Address.City, &zip,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	detail.Order.UserID = userID
	detail.Order.PaymentMethod = model.PaymentMethod(method)
	detail.Order.PaymentStatus = model.PaymentStatus(status)
	detail.Order.Status = model.OrderStatus(state)
	detail.Address.ID = detail.Order.AddressID
	detail.Address.UserID = userID
	if phone != nil {
		detail.Address.Phone = *phone
	}
	if zip != nil {
		detail.Address.Zip = *zip
	}

	rows, err := r.pool.Query(ctx,
		`SELECT product_id, title, price_cents, qty, subtotal_cents
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ProductID, &it.Title, &it.PriceCents, &it.Qty, &it.SubtotalCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		detail.Items = append(detail.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	payRows, err := r.pool.Query(ctx,
		`SELECT provider, provider_payment_id, amount_cents, currency, status, created_at
		 FROM payments
		 WHERE order_id = $1
		 ORDER BY created_at DESC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer payRows.Close()

	for payRows.Next() {
		var p model.Payment
		var providerPaymentID *string
		if err := payRows.Scan(&p.Provider, &providerPaymentID, &p.AmountCents, &p.Currency, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if providerPaymentID != nil {
			p.ProviderPaymentID = *providerPaymentID
		}
		detail.Payments = append(detail.Payments, p)
	}
	if err := payRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &detail, nil
}
