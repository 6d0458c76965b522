package model

// LeaderboardEntry is one row of a room's live ranking
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	ID            string `json:"id"`
	Username      string `json:"username"`
	Score         int    `json:"score"`
	AnsweredCount int    `json:"answeredCount"`
	IsSubmitted   bool   `json:"isSubmitted"`
}
