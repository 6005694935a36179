package dto

type TriggerJobRequest struct {
	TickerList    []string `json:"ticker_list"`
	ExecutionTime string   `json:"execution_time"`
}

type TriggerJobResponse struct {
	JobID         string   `json:"job_id"`
	TickerList    []string `json:"ticker_list"`
	ExecutionTime string   `json:"execution_time"`
	Status        string   `json:"status"`
}

type ListJobHistoryRequest struct {
	Limit int `form:"limit"`
}
