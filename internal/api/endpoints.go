package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stemsi/exstem-portal/internal/model"
)

// Login authenticates with username/password and returns the issued token
// plus profile snapshot.
func (c *Client) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResponse, error) {
	out := &model.LoginResponse{}
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (*model.User, error) {
	out := &model.User{}
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Me returns the profile of the current token's owner. A 401 here means the
// token was revoked or expired server-side.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	out := &model.User{}
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProfile updates profile fields and returns the fresh snapshot.
// The bearer token is unchanged by this call.
func (c *Client) UpdateProfile(ctx context.Context, req model.UpdateProfileRequest) (*model.User, error) {
	out := &model.User{}
	if err := c.do(ctx, http.MethodPut, "/auth/profile", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChangePassword changes the account password.
func (c *Client) ChangePassword(ctx context.Context, req model.ChangePasswordRequest) error {
	return c.do(ctx, http.MethodPut, "/auth/password", req, nil)
}

// GetExam fetches exam metadata and its ordered question list. A 404 (exam
// missing or not accessible to this student) maps to model.ErrExamNotFound.
func (c *Client) GetExam(ctx context.Context, examID string) (*model.ExamPayload, error) {
	out := &model.ExamPayload{}
	if err := c.do(ctx, http.MethodGet, "/exams/"+examID, nil, out); err != nil {
		if apiErr, ok := err.(*Error); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", model.ErrExamNotFound, apiErr.Message)
		}
		return nil, err
	}
	return out, nil
}

// SubmitExam sends the collected answers and returns the server-computed
// score. Unanswered questions are simply absent from the list; an empty
// list is a valid submission.
func (c *Client) SubmitExam(ctx context.Context, examID string, answers []model.AnswerSubmission) (*model.SubmitResult, error) {
	if answers == nil {
		answers = []model.AnswerSubmission{}
	}
	out := &model.SubmitResult{}
	req := model.SubmitExamRequest{Answers: answers}
	if err := c.do(ctx, http.MethodPost, "/exams/"+examID+"/submit", req, out); err != nil {
		return nil, err
	}
	return out, nil
}
