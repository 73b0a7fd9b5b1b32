package notify

import "context"

// Messenger is the bot-transport collaborator. The core hands it raw asset
// payloads and plain notification text; chat formatting happens on the
// other side.
type Messenger interface {
	DeliverAsset(ctx context.Context, actorID int64, payload string) error
	Notify(ctx context.Context, actorID int64, message string) error
}
