package model

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type ProductType string

const (
	ProductCourse ProductType = "course"
	ProductBook   ProductType = "book"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Terminal returns the purchase status a decision resolves to.
func (d Decision) Terminal() Status {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

type Purchase struct {
	ID             int64       `json:"id"`
	BuyerID        int64       `json:"buyer_id"`
	ProductType    ProductType `json:"product_type"`
	ProductID      string      `json:"product_id"`
	ProductTitle   string      `json:"product_title"`
	Status         Status      `json:"status"`
	Amount         int64       `json:"amount"`
	Discount       int64       `json:"discount"`
	PaymentMethod  string      `json:"payment_method"`
	TransactionRef string      `json:"transaction_ref"`
	DecidedBy      *int64      `json:"decided_by,omitempty"`
	DecidedAt      *time.Time  `json:"decided_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type Receipt struct {
	ID                  int64     `json:"id"`
	PurchaseID          int64     `json:"purchase_id"`
	EvidenceHandle      string    `json:"evidence_handle"`
	EvidenceFingerprint string    `json:"evidence_fingerprint"`
	SubmittedAt         time.Time `json:"submitted_at"`
}

type SubmitRequest struct {
	BuyerID             int64       `json:"buyer_id"`
	ProductType         ProductType `json:"product_type"`
	ProductID           string      `json:"product_id"`
	ProductTitle        string      `json:"product_title"`
	Amount              int64       `json:"amount"`
	Discount            int64       `json:"discount"`
	PaymentMethod       string      `json:"payment_method"`
	TransactionRef      string      `json:"transaction_ref"`
	EvidenceHandle      string      `json:"evidence_handle"`
	EvidenceFingerprint string      `json:"evidence_fingerprint"`
}

type SubmitResult struct {
	PurchaseID int64  `json:"purchase_id"`
	Token      string `json:"token"`
	Status     string `json:"status"`
}

type DecideResult struct {
	Purchase *Purchase `json:"purchase,omitempty"`
	Status   string    `json:"status"`
}

// ListFilter narrows the admin purchase listing. Zero values mean "no filter".
type ListFilter struct {
	Status       Status
	ProductType  ProductType
	BuyerQuery   string
	ProductQuery string
	CreatedFrom  time.Time
	CreatedTo    time.Time
}
