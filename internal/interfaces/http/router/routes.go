package router

import (
	"net/http"

	"github.com/bgl/storefront/internal/interfaces/http/handler"
	"github.com/bgl/storefront/internal/interfaces/http/middleware"
)

// Handlers are the endpoint handlers mounted by Storefront
type Handlers struct {
	System       *handler.SystemHandler
	Cart         *handler.CartHandler
	Order        *handler.OrderHandler
	Conversation *handler.ConversationHandler
}

// Storefront returns the route groups of the storefront API. Cart routes
// accept guests; checkout, orders and conversations need an identity and
// status changes need the admin role.
func Storefront(h Handlers) []RouteRegistrar {
	system := NewDomainGroup("system", "")
	system.GET("/health", h.System.Health)

	carts := NewDomainGroup("cart", "/cart")
	carts.GET("", h.Cart.GetCart)
	carts.DELETE("", h.Cart.ClearCart)
	carts.POST("/items", h.Cart.AddItem)
	carts.PUT("/items", h.Cart.UpdateItem)
	carts.DELETE("/items", h.Cart.RemoveItem)

	checkout := NewDomainGroup("checkout", "/checkout").Use(middleware.RequireIdentity())
	checkout.POST("", h.Order.Checkout)

	orders := NewDomainGroup("orders", "/orders").Use(middleware.RequireIdentity())
	orders.GET("", h.Order.ListOrders)
	admin := orders.Group("orders-admin", "/:id").Use(middleware.RequireAdmin())
	admin.PUT("/status", h.Order.UpdateStatus)
	admin.PUT("/payment", h.Order.UpdatePaymentStatus)

	conversations := NewDomainGroup("conversations", "/conversations").Use(middleware.RequireIdentity())
	conversations.GET("", h.Conversation.ListConversations)
	conversations.POST("", h.Conversation.OpenConversation)
	messages := conversations.Group("messages", "/:id/messages")
	messages.GET("", h.Conversation.ListMessages)
	messages.POST("", h.Conversation.SendMessage)
	messages.PUT("/:mid/read", h.Conversation.MarkRead)

	return []RouteRegistrar{system, carts, checkout, orders, conversations}
}

// MessageUploadRoute is the body limit key of the message route that
// accepts attachments
func MessageUploadRoute(apiVersion string) string {
	return middleware.RouteKey(http.MethodPost, "/api/"+apiVersion+"/conversations/:id/messages")
}
