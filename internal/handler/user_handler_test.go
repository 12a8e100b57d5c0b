package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserValidation(t *testing.T) {
	setupMockDB(t)

	c, rec := newJSONContext(http.MethodPost, "/api/users?tenant_key=tk123", `{}`)
	withTenant(c, 1, "tk123")

	require.NoError(t, CreateUser(c))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Errors map[string][]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"is required"}, resp.Errors["name"])
	assert.Equal(t, []string{"is required"}, resp.Errors["email"])
	assert.Equal(t, []string{"is required"}, resp.Errors["password"])
}

func TestCreateUserDuplicateEmailWithinTenant(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	c, rec := newJSONContext(http.MethodPost, "/api/users?tenant_key=tk123",
		`{"name":"Bob","email":"a@b.com","password":"secret2"}`)
	withTenant(c, 1, "tk123")

	require.NoError(t, CreateUser(c))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Errors map[string][]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"has already been taken"}, resp.Errors["email"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserKeepsPasswordWhenOmitted(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT (.+) FROM "users"`).
		WillReturnRows(userRows(t, 5, 1, "a@b.com", "secret1"))
	// The update must only touch name and updated_at; a missing password
	// field never reaches the SET list
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET "name"=\$1,"updated_at"=\$2 WHERE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, rec := newJSONContext(http.MethodPut, "/api/users/5?tenant_key=tk123", `{"name":"Alice B"}`)
	c.SetParamNames("id")
	c.SetParamValues("5")
	withTenant(c, 1, "tk123")

	require.NoError(t, UpdateUser(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserHashesNewPassword(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT (.+) FROM "users"`).
		WillReturnRows(userRows(t, 5, 1, "a@b.com", "secret1"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET "password"=\$1,"updated_at"=\$2 WHERE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, rec := newJSONContext(http.MethodPut, "/api/users/5?tenant_key=tk123", `{"password":"newsecret"}`)
	c.SetParamNames("id")
	c.SetParamValues("5")
	withTenant(c, 1, "tk123")

	require.NoError(t, UpdateUser(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserNotFoundInTenant(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT (.+) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	c, rec := newJSONContext(http.MethodPut, "/api/users/99?tenant_key=tk123", `{"name":"X"}`)
	c.SetParamNames("id")
	c.SetParamValues("99")
	withTenant(c, 1, "tk123")

	require.NoError(t, UpdateUser(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserDropsJoinRows(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET "deleted_at"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	// Role memberships and direct grants go with the user
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "user_roles"`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "user_permissions"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, rec := newJSONContext(http.MethodDelete, "/api/users/5?tenant_key=tk123", "")
	c.SetParamNames("id")
	c.SetParamValues("5")
	withTenant(c, 1, "tk123")

	require.NoError(t, DeleteUser(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserNotFoundInTenant(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectBegin()
	// Soft delete: rows outside the tenant are invisible to the update
	mock.ExpectExec(`UPDATE "users" SET "deleted_at"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	c, rec := newJSONContext(http.MethodDelete, "/api/users/42?tenant_key=tk123", "")
	c.SetParamNames("id")
	c.SetParamValues("42")
	withTenant(c, 1, "tk123")

	require.NoError(t, DeleteUser(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
