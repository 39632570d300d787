package protocol

type VerifyRequest struct {
	ProgramID string `json:"programId"`
}

type VerifyResponse struct {
	IsValid     bool    `json:"isValid"`
	ProgramID   string  `json:"programId"`
	ProgramSize *uint64 `json:"programSize,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type CalculateCostRequest struct {
	ProgramID string `json:"programId"`
}

type ExecuteRequest struct {
	UserWalletAddress string      `json:"userWalletAddress"`
	ProgramID         string      `json:"programId"`
	PaymentSignature  string      `json:"paymentSignature"`
	ServiceFee        uint64      `json:"serviceFee"`
	PlatformFee       uint64      `json:"platformFee"`
	MonthlyFee        uint64      `json:"monthlyFee"`
	InitialMonths     uint64      `json:"initialMonths"`
	RentCost          uint64      `json:"rentCost"`
	ProgramHash       ProgramHash `json:"programHash"`
}

// NewExecuteRequest binds a payment signature to the cost it paid for.
func NewExecuteRequest(wallet, programID, signature string, cost CostBreakdown) ExecuteRequest {
	return ExecuteRequest{
		UserWalletAddress: wallet,
		ProgramID:         programID,
		PaymentSignature:  signature,
		ServiceFee:        cost.ServiceFee,
		PlatformFee:       cost.PlatformFee,
		MonthlyFee:        cost.MonthlyFee,
		InitialMonths:     cost.InitialMonths,
		RentCost:          cost.RentCost,
		ProgramHash:       cost.ProgramHash,
	}
}

type ExecuteResponse struct {
	DeploymentID string    `json:"deploymentId"`
	Status       JobStatus `json:"status"`
	Message      string    `json:"message,omitempty"`
}

type CloseRequest struct {
	DeploymentID      string `json:"deploymentId"`
	UserWalletAddress string `json:"userWalletAddress"`
}

type CloseResponse struct {
	RecoveredAmount uint64 `json:"recoveredAmount"`
}

// ErrorResponse is the body the backend sends with non-2xx statuses.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
