package doordash

// MinOrderValue is the smallest accepted order value, in cents ($1.00).
const MinOrderValue = 100

// DefaultCancelReason is sent when a cancellation omits a reason.
const DefaultCancelReason = "Customer requested cancellation"

// Item is one line of an order as the Drive API expects it.
type Item struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity"`
	ExternalID  string `json:"external_id,omitempty"`
}

// QuoteRequest asks for a non-binding fee and timing estimate.
type QuoteRequest struct {
	StoreID            string
	PickupAddress      string
	DropoffAddress     string
	PickupPhoneNumber  string
	DropoffPhoneNumber string
	OrderValue         int
}

// OrderDetails describes a delivery to create. Field names follow the Drive
// API wire format so the relay can accept them verbatim from clients.
type OrderDetails struct {
	PickupAddress            string `json:"pickup_address"`
	PickupBusinessName       string `json:"pickup_business_name,omitempty"`
	PickupPhoneNumber        string `json:"pickup_phone_number,omitempty"`
	PickupInstructions       string `json:"pickup_instructions,omitempty"`
	DropoffAddress           string `json:"dropoff_address"`
	DropoffBusinessName      string `json:"dropoff_business_name,omitempty"`
	DropoffPhoneNumber       string `json:"dropoff_phone_number,omitempty"`
	DropoffInstructions      string `json:"dropoff_instructions,omitempty"`
	DropoffContactGivenName  string `json:"dropoff_contact_given_name,omitempty"`
	DropoffContactFamilyName string `json:"dropoff_contact_family_name,omitempty"`
	OrderValue               int    `json:"order_value"`
	Tip                      int    `json:"tip,omitempty"`
	Items                    []Item `json:"items,omitempty"`
}

// quotePayload is the body of POST /drive/v2/quotes.
type quotePayload struct {
	ExternalDeliveryID    string `json:"external_delivery_id"`
	PickupAddress         string `json:"pickup_address"`
	PickupExternalStoreID string `json:"pickup_external_store_id,omitempty"`
	PickupPhoneNumber     string `json:"pickup_phone_number,omitempty"`
	DropoffAddress        string `json:"dropoff_address"`
	DropoffPhoneNumber    string `json:"dropoff_phone_number,omitempty"`
	OrderValue            int    `json:"order_value,omitempty"`
}

// deliveryPayload is the body of POST /drive/v2/deliveries.
type deliveryPayload struct {
	ExternalDeliveryID string `json:"external_delivery_id"`
	OrderDetails
}

// cancelPayload is the body of PUT /drive/v2/deliveries/{id}/cancel.
type cancelPayload struct {
	Reason string `json:"reason"`
}
