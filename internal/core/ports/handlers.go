package ports

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type SessionHTTPHandler interface {
	GetState(c *gin.Context)
	Mount(c *gin.Context)
	Leave(c *gin.Context)
	ToggleVideo(c *gin.Context)
	ToggleAudio(c *gin.Context)
	StartShare(c *gin.Context)
	StopShare(c *gin.Context)
	PauseShare(c *gin.Context)
	ResumeShare(c *gin.Context)
	StartRecording(c *gin.Context)
	StopRecording(c *gin.Context)
	DismissNotice(c *gin.Context)
	ListDevices(c *gin.Context)
}

type EventStreamHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}
