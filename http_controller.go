package auth

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RegisterAuthRoutes mounts the account API on app. The application must
// render errors through RouteAuthenticator.ErrorHandler or FiberConfig.
// Middlewares run in the order they are listed after the handler.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	optional := controller.Auther.OptionalRoute()
	protected := controller.Auther.ProtectedRoute()
	anyRole := RequireRoles(GetAllRoles()...)
	privileged := RequireRoles(RoleAdmin, RoleSuperAdmin)
	superadmin := RequireRoles(RoleSuperAdmin)

	api := app.Group(controller.Routes.Auth)
	api.Post("/register", controller.Register, optional).SetName("auth.register")
	api.Post("/login", controller.Login).SetName("auth.login")
	api.Get("/verify", controller.VerifyToken).SetName("auth.verify.token")
	api.Post("/verify", controller.VerifyEmail, protected, privileged).SetName("auth.verify.email")

	users := app.Group(controller.Routes.Users)
	users.Get("/profile", controller.ProfileShow, protected, anyRole).SetName("users.profile.get")
	users.Put("/profile", controller.ProfileUpdate, protected, anyRole).SetName("users.profile.put")
	users.Get("/", controller.ListUsers, protected, privileged).SetName("users.list")
	users.Delete("/", controller.DeleteUsers, protected, privileged).SetName("users.delete")
	users.Patch("/:id/role", controller.ChangeRole, protected, superadmin).SetName("users.role.patch")

	return controller
}

type AuthControllerRoutes struct {
	Auth  string
	Users string
}

type AuthController struct {
	Debug             bool
	Logger            Logger
	Routes            *AuthControllerRoutes
	Auther            *RouteAuthenticator
	Authenticator     Authenticator
	Deps              CommandDeps
	VerifyRedirectURL string
	UseHashid         bool

	register *RegisterUserHandler
	verify   *AccountVerificationHandler
	profile  *UpdateProfileHandler
	manage   *ManageUsersHandler
}

type AuthControllerOption func(*AuthController) *AuthController

// WithAuthenticator sets the login and session collaborator
func WithAuthenticator(auther Authenticator, tokenHeader string) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Authenticator = auther
		c.Auther = NewHTTPAuthenticator(auther, tokenHeader)
		return c
	}
}

// WithCommandDeps sets the collaborators of the account commands
func WithCommandDeps(deps CommandDeps) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Deps = deps
		return c
	}
}

// WithControllerLogger sets the logger
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

// WithVerifyRedirect makes GET verify answer with a redirect to target
func WithVerifyRedirect(target string) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.VerifyRedirectURL = target
		return c
	}
}

// WithHashidIDs derives new account ids from the salted email address
func WithHashidIDs(enabled bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.UseHashid = enabled
		return c
	}
}

// WithDebug logs request payloads and rejected requests
func WithDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Auth:  "/api/auth",
			Users: "/api/users",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil {
		panic("Missing Authenticator in auth controller...")
	}

	if c.Deps.Users == nil {
		panic("Missing Users store in auth controller...")
	}

	if c.Deps.Logger == nil {
		c.Deps.Logger = c.Logger
	}

	c.Auther.Logger = c.Logger
	c.Auther.Debug = c.Debug

	c.register = NewRegisterUserHandler(c.Deps)
	c.verify = NewAccountVerificationHandler(c.Deps)
	c.profile = NewUpdateProfileHandler(c.Deps)
	c.manage = NewManageUsersHandler(c.Deps)

	return c
}

// Register creates an account. Self registration also returns a session
// token in the token header.
func (a *AuthController) Register(ctx router.Context) error {
	payload := RegisterPayload{}
	if err := ctx.Bind(&payload); err != nil {
		return badBody(err)
	}

	actor, _ := CurrentUser(ctx)

	var res *RegisterUserResponse
	err := a.register.Execute(ctx.Context(), RegisterUserMessage{
		Username:  payload.Username,
		Email:     payload.Email,
		Password:  payload.Password,
		Role:      Role(payload.Role),
		Actor:     actor,
		UseHashid: a.UseHashid,
		OnResponse: func(r *RegisterUserResponse) {
			res = r
		},
	})
	if err != nil {
		return err
	}

	if actor == nil && a.Deps.Tokens != nil {
		token, _, err := a.Deps.Tokens.Generate(ctx.Context(), NewIdentityFromUser(res.User))
		if err != nil {
			return err
		}
		ctx.SetHeader(a.Auther.TokenHeader(), token)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"message": "User registered successfully, a verification email has been sent",
		"user": map[string]any{
			"id":       res.User.ID.String(),
			"username": res.User.Username,
			"email":    res.User.Email,
		},
	})
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := LoginPayload{}
	if err := ctx.Bind(&payload); err != nil {
		return badBody(err)
	}

	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	res, err := a.Authenticator.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	ctx.SetHeader(a.Auther.TokenHeader(), res.Token)

	return ctx.JSON(router.StatusOK, map[string]any{
		"id":       res.User.ID.String(),
		"username": res.User.Username,
		"email":    res.User.Email,
		"token":    res.Token,
	})
}

// VerifyToken consumes the ticket from a verification link
func (a *AuthController) VerifyToken(ctx router.Context) error {
	query := VerifyTokenQuery{Token: ctx.Query("token", "")}

	var res *VerifyAccountResponse
	err := a.verify.Execute(ctx.Context(), VerifyAccountMessage{
		Token: query.Token,
		OnResponse: func(r *VerifyAccountResponse) {
			res = r
		},
	})
	if err != nil {
		return err
	}

	if a.VerifyRedirectURL != "" {
		return ctx.Redirect(verifiedRedirect(a.VerifyRedirectURL, res.AlreadyVerified), http.StatusFound)
	}

	return ctx.JSON(router.StatusOK, verifyResponse(res))
}

// VerifyEmail marks an account verified without a ticket
func (a *AuthController) VerifyEmail(ctx router.Context) error {
	payload := VerifyEmailPayload{}
	if err := ctx.Bind(&payload); err != nil {
		return badBody(err)
	}

	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	actor, _ := CurrentUser(ctx)

	var res *VerifyAccountResponse
	err := a.verify.Execute(ctx.Context(), VerifyAccountMessage{
		Email: payload.Email,
		Actor: actor,
		OnResponse: func(r *VerifyAccountResponse) {
			res = r
		},
	})
	if err != nil {
		return err
	}

	return ctx.JSON(router.StatusOK, verifyResponse(res))
}

func (a *AuthController) ProfileShow(ctx router.Context) error {
	user, ok := CurrentUser(ctx)
	if !ok {
		return ErrUnauthorized.Clone()
	}
	return ctx.JSON(router.StatusOK, map[string]any{
		"user": user.Profile(),
	})
}

func (a *AuthController) ProfileUpdate(ctx router.Context) error {
	user, ok := CurrentUser(ctx)
	if !ok {
		return ErrUnauthorized.Clone()
	}

	payload := ProfileUpdatePayload{}
	if err := ctx.Bind(&payload); err != nil {
		return badBody(err)
	}

	var res *UpdateProfileResponse
	err := a.profile.Execute(ctx.Context(), UpdateProfileMessage{
		UserID:   user.ID.String(),
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
		OnResponse: func(r *UpdateProfileResponse) {
			res = r
		},
	})
	if err != nil {
		return err
	}

	body := map[string]any{
		"message": "Profile updated successfully",
		"user":    res.User.Profile(),
	}
	if res.Token != "" {
		ctx.SetHeader(a.Auther.TokenHeader(), res.Token)
		body["token"] = res.Token
	}

	return ctx.JSON(router.StatusOK, body)
}

func (a *AuthController) ListUsers(ctx router.Context) error {
	page, err := queryInt(ctx, "page")
	if err != nil {
		return err
	}
	limit, err := queryInt(ctx, "limit")
	if err != nil {
		return err
	}

	query := ListUsersQuery{Page: page, Limit: limit}

	if err := query.Validate(); err != nil {
		return validationError(err)
	}

	var res *ListUsersResponse
	err = a.manage.List(ctx.Context(), ListUsersMessage{
		Page:  query.Page,
		Limit: query.Limit,
		OnResponse: func(r *ListUsersResponse) {
			res = r
		},
	})
	if err != nil {
		return err
	}

	profiles := make([]Profile, 0, len(res.Users))
	for _, u := range res.Users {
		profiles = append(profiles, u.Profile())
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"users": profiles,
		"total": res.Total,
		"page":  res.Page,
		"limit": res.Limit,
	})
}

func (a *AuthController) DeleteUsers(ctx router.Context) error {
	query := DeleteUsersQuery{
		ID:         ctx.Query("id", ""),
		All:        ctx.Query("all", ""),
		IsVerified: ctx.Query("isverified", ""),
	}

	if err := query.Validate(); err != nil {
		return validationError(err)
	}

	if a.Debug {
		a.Logger.Debug("Delete users", "query", print.MaybePrettyJSON(query))
	}

	actor, _ := CurrentUser(ctx)
	msg := DeleteUsersMessage{
		Actor: actor,
		ID:    query.ID,
		Filter: DeleteFilter{
			All: query.All == "true",
		},
	}
	if query.IsVerified != "" {
		verified := query.IsVerified == "true"
		msg.Filter.Verified = &verified
	}

	var res *DeleteUsersResponse
	msg.OnResponse = func(r *DeleteUsersResponse) {
		res = r
	}

	if err := a.manage.Delete(ctx.Context(), msg); err != nil {
		return err
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"message": "Users deleted successfully",
		"deleted": res.Deleted,
	})
}

func (a *AuthController) ChangeRole(ctx router.Context) error {
	id := ctx.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return withDetails(ErrValidation, map[string]any{"id": "must be a valid UUID"})
	}

	payload := ChangeRolePayload{}
	if err := ctx.Bind(&payload); err != nil {
		return badBody(err)
	}

	actor, _ := CurrentUser(ctx)

	var updated *User
	err := a.manage.ChangeRole(ctx.Context(), ChangeRoleMessage{
		Actor:  actor,
		UserID: id,
		Role:   Role(payload.Role),
		OnResponse: func(u *User) {
			updated = u
		},
	})
	if err != nil {
		return err
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"message": "Role updated successfully",
		"user":    updated.Profile(),
	})
}

func verifyResponse(res *VerifyAccountResponse) map[string]any {
	message := "Email verified successfully"
	if res.AlreadyVerified {
		message = "Email already verified"
	}
	return map[string]any{
		"message":          message,
		"already_verified": res.AlreadyVerified,
		"user":             res.User.Profile(),
	}
}

func verifiedRedirect(target string, already bool) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	status := "verified"
	if already {
		status = "already_verified"
	}
	q.Set("status", status)
	u.RawQuery = q.Encode()
	return u.String()
}

func badBody(err error) error {
	return withDetails(ErrValidation, map[string]any{"body": err.Error()})
}

// queryInt reads an optional integer query parameter, 0 when absent
func queryInt(ctx router.Context, name string) (int, error) {
	raw := ctx.Query(name, "")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, withDetails(ErrValidation, map[string]any{name: "must be an integer"})
	}
	return n, nil
}
