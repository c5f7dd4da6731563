package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"labreport-bot/api/internal/chat"
	"labreport-bot/api/internal/fault"
	"labreport-bot/api/internal/observability"
	"labreport-bot/api/internal/report"
	"labreport-bot/api/internal/util"
)

// maxUpload bounds image bodies, multipart or base64.
const maxUpload = 20 << 20

type ImageRequest struct {
	// Image is base64, optionally a data URL.
	Image string `json:"image"`
}

type ProcessResponse struct {
	Report *ReportView `json:"report,omitempty"`
	Draft  string      `json:"draft"`
	Error  string      `json:"error,omitempty"`
}

// UploadImage runs the whole extraction pipeline and blocks until the draft
// is ready. Progress is visible on the events stream.
func (h *Handler) UploadImage(c echo.Context) error {
	data, mime, err := readImage(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	ctx := c.Request().Context()
	log := observability.LoggerFromContext(ctx).With("mime", mime, "bytes", len(data))
	if !util.IsImageMIME(mime) {
		log.Info("upload does not look like an image")
	} else {
		log.Debug("image upload")
	}
	rep, err := h.pipe.ProcessImage(ctx, data)
	return h.processed(c, rep, err)
}

func (h *Handler) Renormalize(c echo.Context) error {
	rep, err := h.pipe.Renormalize(c.Request().Context())
	return h.processed(c, rep, err)
}

func (h *Handler) processed(c echo.Context, rep *report.Report, err error) error {
	if err != nil {
		if errorStatus(err) == http.StatusConflict {
			return fail(c, err)
		}
		return c.JSON(errorStatus(err), ProcessResponse{Draft: h.pipe.Draft(), Error: fault.UserMessage(err)})
	}
	return c.JSON(http.StatusOK, ProcessResponse{Report: viewOf(rep), Draft: h.pipe.Draft()})
}

// readImage returns the upload and its MIME type, declared or sniffed.
func readImage(c echo.Context) ([]byte, string, error) {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxUpload)
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, "", err
		}
		return data, util.PickMIME(fh.Header.Get(echo.HeaderContentType), "", data), nil
	}
	var body ImageRequest
	if err := c.Bind(&body); err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(body.Image) == "" {
		return nil, "", errors.New("image is required")
	}
	data, hint, err := util.DecodeBase64MaybeDataURL(body.Image)
	if err != nil {
		return nil, "", err
	}
	return data, util.PickMIME("", hint, data), nil
}

type DraftBody struct {
	Draft string `json:"draft"`
}

func (h *Handler) GetDraft(c echo.Context) error {
	return c.JSON(http.StatusOK, DraftBody{Draft: h.pipe.Draft()})
}

func (h *Handler) PutDraft(c echo.Context) error {
	var req DraftBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	h.pipe.SetDraft(req.Draft)
	return c.JSON(http.StatusOK, req)
}

type ReplyResponse struct {
	Message chat.Message `json:"message"`
	Error   string       `json:"error,omitempty"`
}

func replyResponse(r chat.Reply) ReplyResponse {
	resp := ReplyResponse{Message: r.Message}
	if r.Failure != nil {
		resp.Error = fault.UserMessage(r.Failure)
	}
	return resp
}

// SubmitDraft sends the draft for analysis as a user turn.
func (h *Handler) SubmitDraft(c echo.Context) error {
	reply, err := h.pipe.SubmitDraft(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, replyResponse(reply))
}

type MessageRequest struct {
	Text string `json:"text"`
}

type HistoryResponse struct {
	Messages []chat.Message `json:"messages"`
	Phase    chat.Phase     `json:"phase"`
	Busy     bool           `json:"busy"`
}

func (h *Handler) GetMessages(c echo.Context) error {
	st := h.pipe.Chat().Snapshot()
	msgs := st.History
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{Messages: msgs, Phase: st.Phase, Busy: st.Busy})
}

// PostMessage runs one chat turn. A failed turn still answers 200 with the
// fallback message and the error text.
func (h *Handler) PostMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	reply, err := h.pipe.Chat().Send(c.Request().Context(), req.Text)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, replyResponse(reply))
}
