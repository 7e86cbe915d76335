// Package repository содержит реализацию долговременного хранилища корзин в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/gophercart-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrCartNotFound возвращается, если корзина не найдена.
var (
	ErrCartNotFound = errors.New("cart not found")
	// ErrItemNotFound возвращается, если позиция корзины не найдена.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrCartTerminal возвращается при попытке изменить корзину в терминальном статусе.
	ErrCartTerminal = errors.New("cart is in terminal status")
	// ErrCartStateChanged возвращается, если статус корзины изменился между проверкой и транзакцией.
	ErrCartStateChanged = errors.New("cart state changed concurrently")
	// ErrActiveCartExists возвращается при попытке создать вторую активную корзину владельца.
	ErrActiveCartExists = errors.New("active cart already exists for owner")
)

const cartColumns = `id, user_id, session_id, status, cart_type, currency,
	subtotal, discount_amount, tax_amount, shipping_amount, total_amount,
	item_count, total_quantity, coupon_code, merged_to_cart_id,
	created_at, updated_at, last_activity_at, expires_at, deleted_at`

const itemColumns = `id, cart_id, product_id, variant_id, quantity, unit_price,
	stock_quantity, stock_flagged, category, special_instructions, is_gift, gift_message,
	created_at, updated_at`

// querier объединяет pgxpool.Pool и pgx.Tx для переиспользования запросов.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository предоставляет доступ к хранилищу корзин в PostgreSQL.
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

// withRetry повторяет транзакцию при serialization failure и deadlock.
// Остальные ошибки фатальны для вызова и возвращаются сразу.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanCart(row pgx.Row) (*model.Cart, error) {
	var c model.Cart
	err := row.Scan(
		&c.ID, &c.UserID, &c.SessionID, &c.Status, &c.CartType, &c.Currency,
		&c.SubtotalCents, &c.DiscountCents, &c.TaxCents, &c.ShippingCents, &c.TotalCents,
		&c.ItemCount, &c.TotalQuantity, &c.CouponCode, &c.MergedToCartID,
		&c.CreatedAt, &c.UpdatedAt, &c.LastActivityAt, &c.ExpiresAt, &c.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("scan cart: %w", err)
	}
	return &c, nil
}

func loadItems(ctx context.Context, q querier, cartIDs ...string) (map[string][]model.CartItem, error) {
	rows, err := q.Query(ctx,
		`SELECT `+itemColumns+` FROM cart_items WHERE cart_id = ANY($1) ORDER BY created_at, id`,
		cartIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	byCart := make(map[string][]model.CartItem)
	for rows.Next() {
		var it model.CartItem
		err := rows.Scan(
			&it.ID, &it.CartID, &it.ProductID, &it.VariantID, &it.Quantity, &it.UnitPriceCents,
			&it.StockQuantity, &it.StockFlagged, &it.Category, &it.SpecialInstructions, &it.IsGift, &it.GiftMessage,
			&it.CreatedAt, &it.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		byCart[it.CartID] = append(byCart[it.CartID], it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return byCart, nil
}

func (r *PostgresRepository) getCart(ctx context.Context, q querier, where string, args ...any) (*model.Cart, error) {
	cart, err := scanCart(q.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE `+where, args...))
	if err != nil {
		return nil, err
	}

	items, err := loadItems(ctx, q, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items[cart.ID]

	return cart, nil
}

// GetCartByID возвращает корзину с позициями по идентификатору.
func (r *PostgresRepository) GetCartByID(ctx context.Context, id string) (*model.Cart, error) {
	return r.getCart(ctx, r.pool, `id = $1`, id)
}

// GetActiveCartByOwner возвращает активную корзину владельца.
func (r *PostgresRepository) GetActiveCartByOwner(ctx context.Context, owner model.OwnerKey) (*model.Cart, error) {
	column := "session_id"
	if owner.Kind == model.OwnerKindUser {
		column = "user_id"
	}
	return r.getCart(ctx, r.pool, column+` = $1 AND status = $2`, owner.Key, string(model.CartStatusActive))
}

// CreateCart сохраняет новую корзину. Идентификатор генерируется при отсутствии.
func (r *PostgresRepository) CreateCart(ctx context.Context, cart *model.Cart) error {
	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO carts (id, user_id, session_id, status, cart_type, currency, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cart.ID, cart.UserID, cart.SessionID, string(cart.Status), string(cart.CartType),
		cart.Currency, cart.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrActiveCartExists, cart.ID)
		}
		return fmt.Errorf("insert cart: %w", err)
	}

	return nil
}

// rebuildAggregates пересчитывает производные поля корзины из сохранённых позиций.
// Вызывается внутри той же транзакции, что и структурное изменение.
func rebuildAggregates(ctx context.Context, q querier, cartID string) error {
	_, err := q.Exec(ctx,
		`UPDATE carts c SET
			subtotal = COALESCE(a.subtotal, 0),
			item_count = COALESCE(a.item_count, 0),
			total_quantity = COALESCE(a.total_quantity, 0),
			total_amount = COALESCE(a.subtotal, 0)
				- LEAST(COALESCE(a.subtotal, 0), c.discount_amount)
				+ c.tax_amount + c.shipping_amount,
			updated_at = now(),
			last_activity_at = now()
		 FROM (
			SELECT SUM(quantity * unit_price)::bigint AS subtotal,
			       COUNT(*)::int AS item_count,
			       SUM(quantity)::int AS total_quantity
			FROM cart_items WHERE cart_id = $1
		 ) a
		 WHERE c.id = $1`,
		cartID,
	)
	if err != nil {
		return fmt.Errorf("rebuild aggregates: %w", err)
	}
	return nil
}

// lockCart блокирует строку корзины и проверяет, что статус не терминальный.
func lockCart(ctx context.Context, q querier, cartID string) (*model.Cart, error) {
	cart, err := scanCart(q.QueryRow(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE id = $1 FOR UPDATE`, cartID))
	if err != nil {
		return nil, err
	}
	if cart.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrCartTerminal, cart.Status)
	}
	return cart, nil
}

// inTx выполняет fn в транзакции с повтором на транзиентных ошибках и
// возвращает корзину с перечитанными позициями.
func (r *PostgresRepository) inTx(ctx context.Context, cartID string, fn func(ctx context.Context, tx pgx.Tx) error) (*model.Cart, error) {
	var result *model.Cart

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, tx); err != nil {
			return err
		}

		if err := rebuildAggregates(ctx, tx, cartID); err != nil {
			return err
		}

		cart, err := r.getCart(ctx, tx, `id = $1`, cartID)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = cart
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// UpsertItem добавляет позицию в корзину. Совпадающая строка
// (product, variant, unit_price) суммируется с отсечкой на 99 единицах.
func (r *PostgresRepository) UpsertItem(ctx context.Context, cartID string, item model.CartItem) (*model.Cart, error) {
	return r.inTx(ctx, cartID, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := lockCart(ctx, tx, cartID); err != nil {
			return err
		}

		var existingID string
		var existingQty int
		err := tx.QueryRow(ctx,
			`SELECT id, quantity FROM cart_items
			 WHERE cart_id = $1 AND product_id = $2 AND variant_id IS NOT DISTINCT FROM $3 AND unit_price = $4`,
			cartID, item.ProductID, item.VariantID, item.UnitPriceCents,
		).Scan(&existingID, &existingQty)

		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("select existing item: %w", err)
		}

		if err == nil {
			qty := existingQty + item.Quantity
			if qty > model.MaxItemQuantity {
				qty = model.MaxItemQuantity
			}
			_, err = tx.Exec(ctx,
				`UPDATE cart_items SET quantity = $2, updated_at = now() WHERE id = $1`,
				existingID, qty,
			)
			if err != nil {
				return fmt.Errorf("update item quantity: %w", err)
			}
			return nil
		}

		if item.ID == "" {
			item.ID = uuid.NewString()
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO cart_items (id, cart_id, product_id, variant_id, quantity, unit_price,
			                         stock_quantity, category, special_instructions, is_gift, gift_message)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			item.ID, cartID, item.ProductID, item.VariantID, item.Quantity, item.UnitPriceCents,
			item.StockQuantity, item.Category, item.SpecialInstructions, item.IsGift, item.GiftMessage,
		)
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		return nil
	})
}

// UpdateItemQuantity выставляет количество единиц для позиции корзины.
func (r *PostgresRepository) UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) (*model.Cart, error) {
	return r.inTx(ctx, cartID, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := lockCart(ctx, tx, cartID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`UPDATE cart_items SET quantity = $3, updated_at = now() WHERE id = $2 AND cart_id = $1`,
			cartID, itemID, quantity,
		)
		if err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrItemNotFound
		}
		return nil
	})
}

// RemoveItem удаляет позицию из корзины.
func (r *PostgresRepository) RemoveItem(ctx context.Context, cartID, itemID string) (*model.Cart, error) {
	return r.inTx(ctx, cartID, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := lockCart(ctx, tx, cartID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM cart_items WHERE id = $2 AND cart_id = $1`,
			cartID, itemID,
		)
		if err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrItemNotFound
		}
		return nil
	})
}

// ClearItems удаляет все позиции корзины и сбрасывает купон.
func (r *PostgresRepository) ClearItems(ctx context.Context, cartID string) (*model.Cart, error) {
	return r.inTx(ctx, cartID, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := lockCart(ctx, tx, cartID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("clear items: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE carts SET coupon_code = NULL, discount_amount = 0, tax_amount = 0, shipping_amount = 0 WHERE id = $1`,
			cartID,
		); err != nil {
			return fmt.Errorf("reset cart amounts: %w", err)
		}
		return nil
	})
}

// SetCoupon устанавливает либо снимает купон корзины.
func (r *PostgresRepository) SetCoupon(ctx context.Context, cartID string, code *string) (*model.Cart, error) {
	return r.inTx(ctx, cartID, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := lockCart(ctx, tx, cartID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE carts SET coupon_code = $2 WHERE id = $1`, cartID, code,
		); err != nil {
			return fmt.Errorf("set coupon: %w", err)
		}
		return nil
	})
}

// UpdatePricing сохраняет результат пересчёта ценообразования в корзине.
func (r *PostgresRepository) UpdatePricing(ctx context.Context, cartID string, discount, tax, shipping int64) (*model.Cart, error) {
	return r.inTx(ctx, cartID, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := lockCart(ctx, tx, cartID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE carts SET discount_amount = $2, tax_amount = $3, shipping_amount = $4 WHERE id = $1`,
			cartID, discount, tax, shipping,
		); err != nil {
			return fmt.Errorf("update pricing: %w", err)
		}
		return nil
	})
}

// SoftDeleteCart помечает корзину удалённой. Позиции сохраняются для аудита.
func (r *PostgresRepository) SoftDeleteCart(ctx context.Context, cartID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE carts SET status = $2, deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND status NOT IN ($3, $4, $5)`,
		cartID, string(model.CartStatusDeleted),
		string(model.CartStatusMerged), string(model.CartStatusDeleted), string(model.CartStatusConverted),
	)
	if err != nil {
		return fmt.Errorf("soft delete cart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCartNotFound
	}
	return nil
}

// MergeResult описывает исход попарного слияния в хранилище.
type MergeResult struct {
	Target  *model.Cart
	Source  *model.Cart
	Dropped []model.CartItem
}

// MergeCarts выполняет попарное слияние source в target одной транзакцией:
// совпадающие строки суммируются, несовпадающие переносятся, source помечается
// MERGED. Строка, превышающая лимит количества, отбрасывается, количество в
// target не меняется. Обе корзины блокируются в порядке идентификаторов.
func (r *PostgresRepository) MergeCarts(ctx context.Context, sourceID, targetID string) (*MergeResult, error) {
	var result *MergeResult

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Единый порядок блокировки защищает от дедлока встречных слияний.
		first, second := sourceID, targetID
		if second < first {
			first, second = second, first
		}
		for _, id := range []string{first, second} {
			if _, err := tx.Exec(ctx, `SELECT 1 FROM carts WHERE id = $1 FOR UPDATE`, id); err != nil {
				return fmt.Errorf("lock cart %s: %w", id, err)
			}
		}

		source, err := scanCart(tx.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, sourceID))
		if err != nil {
			return err
		}
		target, err := scanCart(tx.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, targetID))
		if err != nil {
			return err
		}

		// Статусы перепроверяются под блокировкой: canMerge снаружи не защищает
		// от гонки со встречной операцией.
		for _, c := range []*model.Cart{source, target} {
			if c.Status != model.CartStatusActive && c.Status != model.CartStatusSaved {
				return fmt.Errorf("%w: cart %s is %s", ErrCartStateChanged, c.ID, c.Status)
			}
		}

		items, err := loadItems(ctx, tx, sourceID, targetID)
		if err != nil {
			return err
		}

		var dropped []model.CartItem
		for _, src := range items[sourceID] {
			var matched *model.CartItem
			for i := range items[targetID] {
				if model.SameLine(items[targetID][i], src) {
					matched = &items[targetID][i]
					break
				}
			}

			if matched == nil {
				_, err := tx.Exec(ctx,
					`UPDATE cart_items SET cart_id = $2, updated_at = now() WHERE id = $1`,
					src.ID, targetID,
				)
				if err != nil {
					return fmt.Errorf("move item %s: %w", src.ID, err)
				}
				continue
			}

			sum := matched.Quantity + src.Quantity
			if sum > model.MaxItemQuantity {
				// Строка source отбрасывается, target остаётся как есть.
				// Оставляем её на source для аудита слияния.
				dropped = append(dropped, src)
				continue
			}

			if _, err := tx.Exec(ctx,
				`UPDATE cart_items SET quantity = $2, updated_at = now() WHERE id = $1`,
				matched.ID, sum,
			); err != nil {
				return fmt.Errorf("sum item %s: %w", matched.ID, err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, src.ID); err != nil {
				return fmt.Errorf("retire source item %s: %w", src.ID, err)
			}
			matched.Quantity = sum
		}

		if _, err := tx.Exec(ctx,
			`UPDATE carts SET status = $2, merged_to_cart_id = $3, updated_at = now() WHERE id = $1`,
			sourceID, string(model.CartStatusMerged), targetID,
		); err != nil {
			return fmt.Errorf("mark source merged: %w", err)
		}

		if err := rebuildAggregates(ctx, tx, targetID); err != nil {
			return err
		}

		merged, err := r.getCart(ctx, tx, `id = $1`, targetID)
		if err != nil {
			return err
		}
		retired, err := r.getCart(ctx, tx, `id = $1`, sourceID)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = &MergeResult{Target: merged, Source: retired, Dropped: dropped}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// PromoteGuestCart переводит гостевую корзину на пользователя без переноса позиций.
func (r *PostgresRepository) PromoteGuestCart(ctx context.Context, cartID, userID string, expiresAt time.Time) (*model.Cart, error) {
	return r.inTx(ctx, cartID, func(ctx context.Context, tx pgx.Tx) error {
		cart, err := lockCart(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if cart.Status != model.CartStatusActive {
			return fmt.Errorf("%w: cart %s is %s", ErrCartStateChanged, cartID, cart.Status)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE carts SET user_id = $2, session_id = NULL, cart_type = $3, expires_at = $4, updated_at = now()
			 WHERE id = $1`,
			cartID, userID, string(model.CartTypeUser), expiresAt,
		); err != nil {
			return fmt.Errorf("promote cart: %w", err)
		}
		return nil
	})
}

// ListActiveSince возвращает страницу активных корзин с активностью после since.
// Используется восстановительным обходом: keyset-пагинация по идентификатору.
func (r *PostgresRepository) ListActiveSince(ctx context.Context, since time.Time, afterID string, limit int) ([]model.Cart, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+cartColumns+` FROM carts
		 WHERE status = $1 AND last_activity_at >= $2 AND id > $3
		 ORDER BY id
		 LIMIT $4`,
		string(model.CartStatusActive), since, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select active carts: %w", err)
	}
	defer rows.Close()

	var carts []model.Cart
	var ids []string
	for rows.Next() {
		cart, err := scanCart(rows)
		if err != nil {
			return nil, err
		}
		carts = append(carts, *cart)
		ids = append(ids, cart.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	items, err := loadItems(ctx, r.pool, ids...)
	if err != nil {
		return nil, err
	}
	for i := range carts {
		carts[i].Items = items[carts[i].ID]
	}

	return carts, nil
}

// ListCartIDsHoldingProduct возвращает активные корзины, содержащие товар.
func (r *PostgresRepository) ListCartIDsHoldingProduct(ctx context.Context, productID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT i.cart_id FROM cart_items i
		 JOIN carts c ON c.id = i.cart_id
		 WHERE i.product_id = $1 AND c.status = $2`,
		productID, string(model.CartStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("select carts holding product: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cart id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// ApplyProductSnapshot обновляет снимки цены и остатка товара во всех активных
// корзинах. Позиция, чьё количество превышает новый остаток, помечается флагом,
// а не усекается. Возвращает затронутые корзины с пересчитанными агрегатами.
func (r *PostgresRepository) ApplyProductSnapshot(ctx context.Context, productID string, priceCents int64, stock int) ([]model.Cart, error) {
	ids, err := r.ListCartIDsHoldingProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	var affected []model.Cart
	for _, cartID := range ids {
		cart, err := r.inTx(ctx, cartID, func(ctx context.Context, tx pgx.Tx) error {
			if _, err := lockCart(ctx, tx, cartID); err != nil {
				return err
			}

			_, err := tx.Exec(ctx,
				`UPDATE cart_items
				 SET unit_price = $3,
				     stock_quantity = $4,
				     stock_flagged = (quantity > $4),
				     updated_at = now()
				 WHERE cart_id = $1 AND product_id = $2`,
				cartID, productID, priceCents, stock,
			)
			if err != nil {
				return fmt.Errorf("update item snapshots: %w", err)
			}
			return nil
		})
		if err != nil {
			// Терминальная корзина могла попасть в выборку между запросами.
			if errors.Is(err, ErrCartTerminal) || errors.Is(err, ErrCartNotFound) {
				continue
			}
			return nil, err
		}
		affected = append(affected, *cart)
	}

	return affected, nil
}
