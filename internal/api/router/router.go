package router

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"resume-analyzer-go/internal/api/handler"
	"resume-analyzer-go/internal/storage"
	"resume-analyzer-go/internal/validator"
)

// RegisterRoutes 注册API路由
func RegisterRoutes(h *server.Hertz, resumeHandler *handler.ResumeHandler) {
	api := h.Group("/api/v1")

	api.POST("/resumes/upload", func(c context.Context, ctx *app.RequestContext) {
		fileHeader, err := ctx.FormFile("file")
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
			return
		}

		targetJobID := ctx.PostForm("target_job_id")
		ownerUserID := ctx.PostForm("owner_user_id")
		mediaType := fileHeader.Header.Get("Content-Type")

		file, err := fileHeader.Open()
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
			return
		}
		defer file.Close()

		resp, err := resumeHandler.HandleResumeUpload(
			c,
			file,
			fileHeader.Size,
			fileHeader.Filename,
			mediaType,
			targetJobID,
			ownerUserID,
		)
		if err != nil {
			var vErr *validator.ValidationError
			if errors.As(err, &vErr) {
				ctx.JSON(consts.StatusBadRequest, utils.H{"error": vErr.Error()})
				return
			}
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}

		ctx.JSON(consts.StatusOK, resp)
	})

	api.GET("/resumes/:document_uuid/status", func(c context.Context, ctx *app.RequestContext) {
		documentUUID := ctx.Param("document_uuid")
		resp, err := resumeHandler.GetDocumentStatus(c, documentUUID)
		if err != nil {
			if errors.Is(err, storage.ErrDocumentNotFound) {
				ctx.JSON(consts.StatusNotFound, utils.H{"error": "文档不存在"})
				return
			}
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	api.GET("/jobs/:job_id/candidates", func(c context.Context, ctx *app.RequestContext) {
		jobID := ctx.Param("job_id")
		candidates, err := resumeHandler.GetJobCandidates(c, jobID)
		if err != nil {
			if errors.Is(err, storage.ErrJobNotFound) {
				ctx.JSON(consts.StatusNotFound, utils.H{"error": "岗位不存在"})
				return
			}
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, utils.H{"job_id": jobID, "candidates": candidates})
	})

	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})
}
