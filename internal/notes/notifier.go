package notes

import (
	"context"

	"go.uber.org/zap"
)

// NoticeLevel grades an advisory notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a user-visible advisory.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
}

// Notifier delivers notices to the user.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

// LogNotifier writes notices to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, notice Notice) {
	fields := []zap.Field{
		zap.String("title", notice.Title),
		zap.String("message", notice.Message),
	}
	if notice.Level == NoticeError {
		n.logger.Warn("user notice", fields...)
		return
	}
	n.logger.Info("user notice", fields...)
}

var (
	noticeOfflineRead = Notice{Level: NoticeInfo, Title: "Offline Mode", Message: "You are offline. Showing cached notes."}
	noticeOfflineSave = Notice{Level: NoticeInfo, Title: "Offline Mode", Message: "Note saved locally and will upload when you sync."}
	noticeOfflineSync = Notice{Level: NoticeInfo, Title: "Offline Mode", Message: "Connect to the internet to sync your notes."}
	noticeCachedData  = Notice{Level: NoticeInfo, Title: "Showing Cached Data", Message: "Could not reach the server. Showing your last saved notes."}
	noticeUploadError = Notice{Level: NoticeError, Title: "Upload Failed", Message: "Your note could not be uploaded."}
)
