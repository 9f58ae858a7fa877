package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/hanseoyun/shopcore-backend/internal/cart"
	"github.com/hanseoyun/shopcore-backend/internal/points"
	"github.com/hanseoyun/shopcore-backend/internal/stock"
	"github.com/hanseoyun/shopcore-backend/pkg/config"
	"github.com/hanseoyun/shopcore-backend/pkg/db"
	"github.com/hanseoyun/shopcore-backend/pkg/db/models"
	"github.com/hanseoyun/shopcore-backend/pkg/enums"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
	"github.com/hanseoyun/shopcore-backend/pkg/outbox"
	"github.com/hanseoyun/shopcore-backend/pkg/outbox/payloads"
)

// Service turns the active cart into an order aggregate. Creation runs as a
// single transaction: reservation, point spend and persistence commit or
// roll back together, so no manual compensation exists on this path.
type Service interface {
	CreateFromCart(ctx context.Context, userID uuid.UUID, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
}

// CreateInput carries the checkout form: shipping destination plus the point
// spend requested by the buyer.
type CreateInput struct {
	UsePoints      int64
	RecipientName  string
	RecipientPhone string
	PostalCode     string
	Address1       string
	Address2       *string
	Memo           *string
}

// ServiceParams wires the aggregator's collaborators.
type ServiceParams struct {
	TxRunner  txRunner
	Repo      Repository
	CartRepo  cart.CartRepository
	Products  productFinder
	Stock     stockLedger
	Points    pointLedger
	Shipping  shippingQuoter
	Outbox    outboxPublisher
	Logger    *logger.Logger
	PointsCfg config.PointsConfig
}

type service struct {
	tx       txRunner
	repo     Repository
	cartRepo cart.CartRepository
	products productFinder
	stock    stockLedger
	points   pointLedger
	shipping shippingQuoter
	outbox   outboxPublisher
	logg     *logger.Logger
	minUse   int64
	now      func() time.Time
}

// NewService builds the order aggregator.
func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.CartRepo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product finder required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Points == nil {
		return nil, fmt.Errorf("point ledger required")
	}
	if params.Shipping == nil {
		return nil, fmt.Errorf("shipping quoter required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:       params.TxRunner,
		repo:     params.Repo,
		cartRepo: params.CartRepo,
		products: params.Products,
		stock:    params.Stock,
		points:   params.Points,
		shipping: params.Shipping,
		outbox:   params.Outbox,
		logg:     params.Logger,
		minUse:   params.PointsCfg.MinUse,
		now:      time.Now,
	}, nil
}

func (s *service) CreateFromCart(ctx context.Context, userID uuid.UUID, input CreateInput) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if err := s.validateUsePoints(input.UsePoints); err != nil {
		return nil, err
	}

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cartRepo := s.cartRepo.WithTx(tx)

		basket, err := cartRepo.FindActiveByUser(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active cart")
		}
		if len(basket.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty")
		}

		productsByID, err := s.loadProducts(ctx, basket.Items)
		if err != nil {
			return err
		}

		lines := make([]stock.Line, 0, len(basket.Items))
		total := decimal.Zero
		for _, item := range basket.Items {
			product, ok := productsByID[item.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeInactiveProduct, "product is no longer available").
					WithDetails(map[string]any{"product_id": item.ProductID})
			}
			if !product.IsActive {
				return pkgerrors.New(pkgerrors.CodeInactiveProduct, "product is no longer available").
					WithDetails(map[string]any{"product_id": product.ID, "product_name": product.Name})
			}
			if product.Stock < item.Quantity {
				return pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough stock available").
					WithDetails(map[string]any{
						"product_id": product.ID,
						"available":  product.Stock,
						"requested":  item.Quantity,
					})
			}
			lines = append(lines, stock.Line{ProductID: product.ID, Qty: item.Quantity})
			total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		if err := s.stock.Reserve(ctx, tx, lines); err != nil {
			return err
		}

		quote := s.shipping.QuoteFor(total, input.PostalCode)
		payable := total.Add(quote.Total())
		usePoints := decimal.NewFromInt(input.UsePoints)
		if usePoints.GreaterThan(payable) {
			return pkgerrors.New(pkgerrors.CodePointsExceedOrderAmount, "points exceed the payable amount").
				WithDetails(map[string]any{"max_usable": payable.IntPart()})
		}
		finalAmount := payable.Sub(usePoints)

		order := &models.Order{
			UserID:                userID,
			Status:                enums.OrderStatusPending,
			TotalAmount:           total,
			ShippingFee:           quote.BaseFee,
			AdditionalShippingFee: quote.RemoteSurcharge,
			UsedPoints:            input.UsePoints,
			FinalAmount:           finalAmount,
			RecipientName:         input.RecipientName,
			RecipientPhone:        input.RecipientPhone,
			PostalCode:            input.PostalCode,
			Address1:              input.Address1,
			Address2:              input.Address2,
			Memo:                  input.Memo,
		}
		if err := s.insertWithOrderNumber(ctx, repo, order); err != nil {
			return err
		}

		items := make([]models.OrderItem, 0, len(basket.Items))
		for _, item := range basket.Items {
			product := productsByID[item.ProductID]
			productID := product.ID
			items = append(items, models.OrderItem{
				OrderID:     order.ID,
				ProductID:   &productID,
				ProductName: product.Name,
				Price:       product.Price,
				Quantity:    item.Quantity,
			})
		}
		if err := repo.CreateItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}
		order.Items = items

		if input.UsePoints > 0 {
			_, err := s.points.ConsumeFIFO(ctx, tx, points.ConsumeInput{
				UserID:      userID,
				Amount:      input.UsePoints,
				Type:        enums.PointEventUse,
				OrderID:     &order.ID,
				Description: fmt.Sprintf("points spent on order %s", order.OrderNumber),
			})
			if err != nil {
				return err
			}
		}

		payment := &models.Payment{
			OrderID:        order.ID,
			GatewayOrderID: order.OrderNumber,
			Amount:         finalAmount,
			Status:         enums.PaymentStatusReady,
		}
		if _, err := repo.CreatePayment(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		order.Payment = payment

		if err := cartRepo.ClearItems(ctx, basket.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}
		if err := cartRepo.Deactivate(ctx, basket.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate cart")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: userID, Role: "buyer"},
			Data: payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				UserID:      userID,
				FinalAmount: finalAmount.IntPart(),
				UsedPoints:  input.UsePoints,
				ItemCount:   len(items),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created event")
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":     created.ID,
		"order_number": created.OrderNumber,
		"final_amount": created.FinalAmount.IntPart(),
		"used_points":  created.UsedPoints,
	})
	s.logg.Info(logCtx, "order created")
	return created, nil
}

func (s *service) Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if userID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}
	order, err := s.repo.FindByIDAndUser(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) validateUsePoints(usePoints int64) error {
	if usePoints < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "use_points cannot be negative")
	}
	if usePoints > 0 && usePoints < s.minUse {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("at least %d points must be spent at once", s.minUse))
	}
	return nil
}

func (s *service) loadProducts(ctx context.Context, items []models.CartItem) (map[uuid.UUID]models.Product, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	rows, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	byID := make(map[uuid.UUID]models.Product, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	return byID, nil
}

// insertWithOrderNumber generates a candidate number, checks it is free and
// inserts. The unique index stays the final arbiter for the small window
// between check and insert.
func (s *service) insertWithOrderNumber(ctx context.Context, repo Repository, order *models.Order) error {
	for attempt := 0; attempt < orderNumberMaxAttempts; attempt++ {
		candidate := generateOrderNumber(s.now())
		_, err := repo.FindByOrderNumber(ctx, candidate)
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order number")
		}
		order.OrderNumber = candidate
		if _, err := repo.Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "idx_orders_order_number") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order number collision")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInternal, "could not allocate an order number")
}
