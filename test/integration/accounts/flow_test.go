// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package accounts_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/httpapi"
)

type apiResponse struct {
	Status  int
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Token   string         `json:"token"`
	Error   string         `json:"error"`
	User    map[string]any `json:"user"`
}

// apiClient talks to the test server with a cookie jar, like a browser.
type apiClient struct {
	http *http.Client
}

func newAPIClient() *apiClient {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &apiClient{http: &http.Client{Jar: jar}}
}

func (c *apiClient) call(method, path, body string, headers ...string) apiResponse {
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+httpapi.BasePath+path, strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.http.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())

	var out apiResponse
	Expect(json.Unmarshal(data, &out)).To(Succeed(), string(data))
	out.Status = resp.StatusCode
	return out
}

var _ = Describe("Account lifecycle over HTTP", func() {
	var (
		client *apiClient
		start  time.Time
	)

	BeforeEach(func() {
		cleanupDatabase(env.ctx, env.pool)
		start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		env.clock.Set(start)
		client = newAPIClient()
	})

	register := func(name, email, password string) apiResponse {
		return client.call(http.MethodPost, "/register",
			`{"name":"`+name+`","email":"`+email+`","password":"`+password+`"}`)
	}
	login := func(email, password string) apiResponse {
		return client.call(http.MethodPost, "/login",
			`{"email":"`+email+`","password":"`+password+`"}`)
	}

	It("runs the register, verify, login and reset scenario", func() {
		By("registering an unverified account")
		resp := register("Ann", "ann@x.com", "pw123")
		Expect(resp.Status).To(Equal(http.StatusOK))
		Expect(resp.Message).To(Equal("User registered successfully"))

		verifyToken := env.outbox.lastToken("ann@x.com", "verify")
		Expect(verifyToken).To(HaveLen(64))

		By("verifying the email once")
		resp = client.call(http.MethodGet, "/verify/"+verifyToken, "")
		Expect(resp.Status).To(Equal(http.StatusOK))
		resp = client.call(http.MethodGet, "/verify/"+verifyToken, "")
		Expect(resp.Status).To(Equal(http.StatusBadRequest))
		Expect(resp.Error).To(Equal(account.CodeInvalidToken))

		By("logging in with the right password")
		resp = login("ann@x.com", "pw123")
		Expect(resp.Status).To(Equal(http.StatusOK))
		Expect(resp.Token).NotTo(BeEmpty())
		Expect(resp.User).To(HaveKeyWithValue("isVerified", true))
		Expect(resp.User).NotTo(HaveKey("passwordHash"))
		oldSession := resp.Token

		resp = client.call(http.MethodGet, "/me", "")
		Expect(resp.Status).To(Equal(http.StatusOK), "session cookie authenticates /me")
		Expect(resp.User).To(HaveKeyWithValue("email", "ann@x.com"))

		By("rejecting the wrong password")
		resp = login("ann@x.com", "wrong")
		Expect(resp.Status).To(Equal(http.StatusBadRequest))
		Expect(resp.Error).To(Equal(account.CodeInvalidCredentials))

		By("requesting a password reset")
		resp = client.call(http.MethodPost, "/forgot-password", `{"email":"ann@x.com"}`)
		Expect(resp.Status).To(Equal(http.StatusOK))
		resetToken := env.outbox.lastToken("ann@x.com", "reset-password")
		Expect(resetToken).To(HaveLen(64))

		By("refusing the reset token after it expires")
		env.clock.Set(start.Add(2 * time.Hour))
		resp = client.call(http.MethodPost, "/reset-password/"+resetToken, `{"password":"newpw"}`)
		Expect(resp.Status).To(Equal(http.StatusBadRequest))
		Expect(resp.Error).To(Equal(account.CodeInvalidToken))

		By("accepting the reset token inside its window")
		env.clock.Set(start.Add(30 * time.Minute))
		resp = client.call(http.MethodPost, "/reset-password/"+resetToken, `{"password":"newpw"}`)
		Expect(resp.Status).To(Equal(http.StatusOK))
		Expect(resp.Message).To(Equal("Password reset successfully"))

		resp = client.call(http.MethodPost, "/reset-password/"+resetToken, `{"password":"again"}`)
		Expect(resp.Status).To(Equal(http.StatusBadRequest), "reset tokens are single use")

		By("authenticating with the new password only")
		env.clock.Set(start.Add(31 * time.Minute))
		Expect(login("ann@x.com", "pw123").Status).To(Equal(http.StatusBadRequest))

		By("rejecting sessions issued before the reset")
		resp = newAPIClient().call(http.MethodGet, "/me", "", "Authorization", "Bearer "+oldSession)
		Expect(resp.Status).To(Equal(http.StatusBadRequest))
		Expect(resp.Error).To(Equal(account.CodeSessionSuperseded))

		resp = login("ann@x.com", "newpw")
		Expect(resp.Status).To(Equal(http.StatusOK))
		Expect(client.call(http.MethodGet, "/me", "").Status).To(Equal(http.StatusOK))
	})

	It("rejects a duplicate registration", func() {
		Expect(register("Ann", "ann@x.com", "pw123").Status).To(Equal(http.StatusOK))

		resp := register("Ann Again", "ANN@x.com", "other")
		Expect(resp.Status).To(Equal(http.StatusBadRequest))
		Expect(resp.Error).To(Equal(account.CodeEmailTaken))
	})

	It("reports missing fields as validation errors", func() {
		resp := register("", "ann@x.com", "")
		Expect(resp.Status).To(Equal(http.StatusBadRequest))
		Expect(resp.Error).To(Equal(account.CodeValidation))

		resp = client.call(http.MethodPost, "/forgot-password", `{}`)
		Expect(resp.Status).To(Equal(http.StatusBadRequest))
		Expect(resp.Error).To(Equal(account.CodeValidation))
	})

	It("reports unknown users on forgot-password", func() {
		resp := client.call(http.MethodPost, "/forgot-password", `{"email":"nobody@x.com"}`)
		Expect(resp.Status).To(Equal(http.StatusBadRequest))
		Expect(resp.Error).To(Equal(account.CodeNotFound))
	})

	It("expires sessions after 24 hours and clears them on logout", func() {
		Expect(register("Bob", "bob@x.com", "pw").Status).To(Equal(http.StatusOK))
		Expect(login("bob@x.com", "pw").Status).To(Equal(http.StatusOK))
		Expect(client.call(http.MethodGet, "/me", "").Status).To(Equal(http.StatusOK))

		env.clock.Set(start.Add(24*time.Hour + time.Second))
		resp := client.call(http.MethodGet, "/me", "")
		Expect(resp.Status).To(Equal(http.StatusUnauthorized))
		Expect(resp.Message).To(Equal("Authentication failed"))

		env.clock.Set(start)
		resp = client.call(http.MethodPost, "/logout", "")
		Expect(resp.Status).To(Equal(http.StatusOK))
		Expect(client.call(http.MethodGet, "/me", "").Status).To(Equal(http.StatusUnauthorized),
			"cookie cleared by logout")
	})
})
