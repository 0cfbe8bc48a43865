package products

const (
	TopicProductCreated    = "product.created"
	TopicProductNotFound   = "product.not-found"
	TopicStockInsufficient = "product.stock-insufficient"
	TopicOrderCreated      = "order.created"
)

// Event is a domain event published to the product exchange. Topic doubles as
// the routing key.
type Event interface {
	Topic() string
	Payload() any
}

type ProductCreated struct {
	Product Product
}

func (e ProductCreated) Topic() string { return TopicProductCreated }
func (e ProductCreated) Payload() any  { return e.Product }

type ProductNotFound struct {
	OrderID   int64 `json:"orderId"`
	ProductID int64 `json:"productId"`
}

func (e ProductNotFound) Topic() string { return TopicProductNotFound }
func (e ProductNotFound) Payload() any  { return e }

type StockInsufficient struct {
	OrderID   int64 `json:"orderId"`
	ProductID int64 `json:"productId"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

func (e StockInsufficient) Topic() string { return TopicStockInsufficient }
func (e StockInsufficient) Payload() any  { return e }
