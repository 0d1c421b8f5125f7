// devstack.go
//
// Collaborative stem revision and review service
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of stemflow.
// stemflow is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// stemflow is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with stemflow.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

// Package devstack starts the containers a stemflow process depends on:
// a database, MinIO for stem objects, Redis for playback sets and, when
// AUTHZ_IMAGE is set, an Authorizer instance. It backs the testcontainers
// command and the database integration tests.
package devstack

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Logf receives progress messages. testing.T.Logf satisfies it.
type Logf func(format string, args ...any)

// Options selects images and credentials for the stack
type Options struct {
	DBType       string // mariadb, mysql or postgres
	DBImage      string
	DBDatabase   string
	DBUser       string
	DBPassword   string
	RootPassword string

	MinioImage     string
	MinioAccessKey string
	MinioSecretKey string

	RedisImage string

	AuthzImage    string
	AuthzClientID string
	AuthzSecret   string
	AuthzDatabase string

	SkipMinio bool
	SkipRedis bool
}

// OptionsFromEnv reads Options from the environment with local defaults
func OptionsFromEnv() Options {
	return Options{
		DBType:         getEnv("DB_TYPE", "mariadb"),
		DBImage:        getEnv("DB_IMAGE", "mariadb:11"),
		DBDatabase:     getEnv("DB_DATABASE", "stemflow"),
		DBUser:         getEnv("DB_USER", "stemflow"),
		DBPassword:     getEnv("DB_PASSWORD", "stemflow"),
		RootPassword:   getEnv("DB_ROOT_PASSWORD", "root"),
		MinioImage:     getEnv("MINIO_IMAGE", "minio/minio:latest"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		RedisImage:     getEnv("REDIS_IMAGE", "redis:7-alpine"),
		AuthzImage:     os.Getenv("AUTHZ_IMAGE"),
		AuthzClientID:  os.Getenv("AUTHZ_CLIENT_ID"),
		AuthzSecret:    os.Getenv("AUTHZ_ADMIN_SECRET"),
		AuthzDatabase:  getEnv("AUTHZ_DATABASE", "authorizer"),
	}
}

// Stack is a running set of containers on one network
type Stack struct {
	opts Options

	Network    *testcontainers.DockerNetwork
	DB         testcontainers.Container
	Minio      testcontainers.Container
	Redis      testcontainers.Container
	Authorizer testcontainers.Container

	env map[string]string
}

const (
	dbAlias    = "db"
	authzAlias = "authorizer"
	authzPort  = "8080"
)

// Start creates the network and containers. On error everything already
// started is terminated.
func Start(ctx context.Context, opts Options, logf Logf) (*Stack, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	s := &Stack{opts: opts, env: map[string]string{}}

	nw, err := network.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}
	s.Network = nw

	steps := []struct {
		name string
		skip bool
		run  func(context.Context, Logf) error
	}{
		{"database", false, s.startDB},
		{"minio", opts.SkipMinio, s.startMinio},
		{"redis", opts.SkipRedis, s.startRedis},
		{"authorizer", opts.AuthzImage == "", s.startAuthorizer},
	}
	for _, step := range steps {
		if step.skip {
			continue
		}
		if err := step.run(ctx, logf); err != nil {
			s.Terminate(context.Background(), logf)
			return nil, fmt.Errorf("failed to start %s: %w", step.name, err)
		}
	}

	if opts.AuthzImage == "" {
		s.env["AUTH_MODE"] = "header"
	}
	logf("stemflow dev stack started")
	return s, nil
}

// Env is the environment a stemflow process on the host uses to reach the stack
func (s *Stack) Env() map[string]string {
	out := make(map[string]string, len(s.env))
	for k, v := range s.env {
		out[k] = v
	}
	return out
}

// Terminate stops every container and removes the network
func (s *Stack) Terminate(ctx context.Context, logf Logf) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	containers := []struct {
		name string
		c    testcontainers.Container
	}{
		{"Authorizer", s.Authorizer},
		{"Redis", s.Redis},
		{"MinIO", s.Minio},
		{"Database", s.DB},
	}
	for _, tc := range containers {
		if tc.c == nil {
			continue
		}
		if err := tc.c.Terminate(ctx); err != nil {
			logf("Failed to terminate %s: %v", tc.name, err)
		}
	}
	if s.Network != nil {
		if err := s.Network.Remove(ctx); err != nil {
			logf("Failed to remove network: %v", err)
		}
	}
}

func (s *Stack) startDB(ctx context.Context, logf Logf) error {
	port := nat.Port("3306/tcp")
	dbType := "mysql"
	if s.opts.DBType == "postgres" {
		port = nat.Port("5432/tcp")
		dbType = "postgres"
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        s.opts.DBImage,
			ExposedPorts: []string{string(port)},
			Env:          dbInitEnv(s.opts),
			WaitingFor:   wait.ForListeningPort(port).WithStartupTimeout(90 * time.Second),
			Networks:     []string{s.Network.Name},
			NetworkAliases: map[string][]string{
				s.Network.Name: {dbAlias},
			},
		},
		Started: true,
	})
	if err != nil {
		return err
	}
	s.DB = c

	host, mapped, err := endpoint(ctx, c, port)
	if err != nil {
		return err
	}
	if dbType == "mysql" {
		if err := initMySQL(ctx, s.opts, host, mapped.Port()); err != nil {
			return err
		}
	}

	s.env["DB_TYPE"] = dbType
	s.env["DB_HOST"] = host
	s.env["DB_PORT"] = mapped.Port()
	s.env["DB_DATABASE"] = s.opts.DBDatabase
	s.env["DB_USER"] = s.opts.DBUser
	s.env["DB_PASSWORD"] = s.opts.DBPassword
	logf("DB_HOST=%s DB_PORT=%s", host, mapped.Port())
	return nil
}

func (s *Stack) startMinio(ctx context.Context, logf Logf) error {
	port := nat.Port("9000/tcp")
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        s.opts.MinioImage,
			ExposedPorts: []string{string(port)},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     s.opts.MinioAccessKey,
				"MINIO_ROOT_PASSWORD": s.opts.MinioSecretKey,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort(port).WithStartupTimeout(60 * time.Second),
			Networks:   []string{s.Network.Name},
		},
		Started: true,
	})
	if err != nil {
		return err
	}
	s.Minio = c

	host, mapped, err := endpoint(ctx, c, port)
	if err != nil {
		return err
	}
	s.env["MINIO_ENDPOINT"] = fmt.Sprintf("%s:%s", host, mapped.Port())
	s.env["MINIO_ACCESS_KEY"] = s.opts.MinioAccessKey
	s.env["MINIO_SECRET_KEY"] = s.opts.MinioSecretKey
	s.env["MINIO_USE_SSL"] = "false"
	logf("MINIO_ENDPOINT=%s", s.env["MINIO_ENDPOINT"])
	return nil
}

func (s *Stack) startRedis(ctx context.Context, logf Logf) error {
	port := nat.Port("6379/tcp")
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        s.opts.RedisImage,
			ExposedPorts: []string{string(port)},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
			Networks:     []string{s.Network.Name},
		},
		Started: true,
	})
	if err != nil {
		return err
	}
	s.Redis = c

	host, mapped, err := endpoint(ctx, c, port)
	if err != nil {
		return err
	}
	s.env["REDIS_ADDR"] = fmt.Sprintf("%s:%s", host, mapped.Port())
	logf("REDIS_ADDR=%s", s.env["REDIS_ADDR"])
	return nil
}

func (s *Stack) startAuthorizer(ctx context.Context, logf Logf) error {
	port, err := nat.NewPort("tcp", authzPort)
	if err != nil {
		return err
	}
	dbURL := fmt.Sprintf("root:%s@tcp(%s:3306)/%s", s.opts.RootPassword, dbAlias, s.opts.AuthzDatabase)
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        s.opts.AuthzImage,
			ExposedPorts: []string{string(port)},
			Env: map[string]string{
				"ENV":           "production",
				"CLIENT_ID":     s.opts.AuthzClientID,
				"PORT":          authzPort,
				"DATABASE_TYPE": "mysql",
				"DATABASE_NAME": s.opts.AuthzDatabase,
				"DATABASE_URL":  dbURL,
				"ADMIN_SECRET":  s.opts.AuthzSecret,
				"ROLES":         "admin,user",
				"DEFAULT_ROLES": "user",
			},
			WaitingFor: wait.ForLog("Authorizer running at PORT:").WithStartupTimeout(30 * time.Second),
			Networks:   []string{s.Network.Name},
			NetworkAliases: map[string][]string{
				s.Network.Name: {authzAlias},
			},
		},
		Started: true,
	})
	if err != nil {
		return err
	}
	s.Authorizer = c

	host, mapped, err := endpoint(ctx, c, port)
	if err != nil {
		return err
	}
	s.env["AUTH_MODE"] = "authorizer"
	s.env["AUTHZ_URL"] = fmt.Sprintf("http://%s:%s", host, mapped.Port())
	s.env["AUTHZ_CLIENT_ID"] = s.opts.AuthzClientID
	logf("AUTHZ_URL=%s", s.env["AUTHZ_URL"])
	return nil
}

func endpoint(ctx context.Context, c testcontainers.Container, port nat.Port) (string, nat.Port, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return "", "", err
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		return "", "", err
	}
	return host, mapped, nil
}

func dbInitEnv(opts Options) map[string]string {
	if opts.DBType == "postgres" {
		return map[string]string{
			"POSTGRES_PASSWORD": opts.DBPassword,
			"POSTGRES_USER":     opts.DBUser,
			"POSTGRES_DB":       opts.DBDatabase,
		}
	}
	return map[string]string{
		"MYSQL_ROOT_PASSWORD": opts.RootPassword,
		"MYSQL_DATABASE":      opts.DBDatabase,
		"MYSQL_USER":          opts.DBUser,
		"MYSQL_PASSWORD":      opts.DBPassword,
	}
}

// initMySQL waits for the server to accept root logins and creates the
// Authorizer database next to the stemflow one
func initMySQL(ctx context.Context, opts Options, host, port string) error {
	db, err := sql.Open("mysql", fmt.Sprintf("root:%s@tcp(%s:%s)/", opts.RootPassword, host, port))
	if err != nil {
		return err
	}
	defer db.Close()

	for i := 0; i < 30; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		return fmt.Errorf("database not ready after 30 seconds: %w", err)
	}

	stmts := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", opts.DBDatabase),
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", opts.AuthzDatabase),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'%%'", opts.DBDatabase, opts.DBUser),
		"FLUSH PRIVILEGES",
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: when executing > %s", err, stmt)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
