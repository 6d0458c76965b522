package model

// Player is an opaque participant profile owned by the account service.
type Player struct {
	ID       string `json:"id" bson:"id"`
	Username string `json:"username" bson:"username"`
	Avatar   string `json:"avatar" bson:"avatar"`
	IsHost   bool   `json:"isHost" bson:"isHost"`
	IsReady  bool   `json:"isReady" bson:"isReady"`
}

// Identity is the verified caller of a request or connection.
type Identity struct {
	PlayerID string
	Username string
	Avatar   string
}

// Player returns the identity as a fresh lobby player.
func (i Identity) Player() Player {
	return Player{ID: i.PlayerID, Username: i.Username, Avatar: i.Avatar}
}
