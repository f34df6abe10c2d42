package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const defaultOperationTimeout = 10 * time.Second

// Credential identifies a user and the database it authenticates against.
type Credential struct {
	Username  string
	Password  string
	Source    string
	Mechanism string
}

// String implements fmt.Stringer without exposing the password.
func (c Credential) String() string {
	mechanism := c.Mechanism
	if mechanism == "" {
		mechanism = "negotiated"
	}
	password := ""
	if c.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("%s@%s (mechanism=%s, password=%s)", c.Username, c.Source, mechanism, password)
}

// Role is a built-in or custom role granted on a single database.
type Role struct {
	Role string `bson:"role" json:"role" yaml:"role"`
	DB   string `bson:"db" json:"db" yaml:"db"`
}

// UserSpec describes a user to create or update.
type UserSpec struct {
	Username   string
	Password   string
	Mechanisms []string
	Roles      []Role
}

// UserInfo is one entry of a usersInfo reply.
type UserInfo struct {
	Username   string   `bson:"user"`
	DB         string   `bson:"db"`
	Roles      []Role   `bson:"roles"`
	Mechanisms []string `bson:"mechanisms"`
}

// AuthenticatedUser is one entry of connectionStatus.authInfo.authenticatedUsers.
type AuthenticatedUser struct {
	User string `bson:"user"`
	DB   string `bson:"db"`
}

// ConnectionStatus is the decoded reply of the connectionStatus command.
type ConnectionStatus struct {
	AuthInfo struct {
		AuthenticatedUsers []AuthenticatedUser `bson:"authenticatedUsers"`
	} `bson:"authInfo"`
}

// IsAuthenticatedAs reports whether the session is authenticated as user on db.
func (s *ConnectionStatus) IsAuthenticatedAs(user, db string) bool {
	if s == nil {
		return false
	}
	for _, u := range s.AuthInfo.AuthenticatedUsers {
		if u.User == user && u.DB == db {
			return true
		}
	}
	return false
}

// Admin is the set of administrative commands the bootstrap sequence issues.
type Admin interface {
	CollectionExists(ctx context.Context, db, collection string) (bool, error)
	CreateCollection(ctx context.Context, db, collection string) error
	GetUser(ctx context.Context, db, username string) (*UserInfo, error)
	CreateUser(ctx context.Context, db string, spec UserSpec) error
	UpdateUser(ctx context.Context, db string, spec UserSpec) error
	ConnectionStatus(ctx context.Context, db string) (*ConnectionStatus, error)
	Close(ctx context.Context) error
}

// Dialer opens an authenticated Admin session.
type Dialer interface {
	Dial(ctx context.Context, cred Credential) (Admin, error)
}

// Options holds connection settings shared by every session the dialer opens.
type Options struct {
	URI                    string
	Host                   string
	Port                   int
	ReplicaSet             string
	Direct                 bool
	TLS                    bool
	AppName                string
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	OperationTimeout       time.Duration
}

// MongoDialer dials MongoDB with the official driver.
type MongoDialer struct {
	opts   Options
	uri    string
	logger *zap.SugaredLogger
}

// NewMongoDialer creates a dialer for the given connection options
func NewMongoDialer(opts Options, logger *zap.SugaredLogger) *MongoDialer {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}
	return &MongoDialer{
		opts:   opts,
		uri:    BuildURI(opts),
		logger: logger,
	}
}

// URI returns the connection string without credentials.
func (d *MongoDialer) URI() string {
	return RedactURI(d.uri)
}

// Dial connects, authenticates with cred and pings the server.
// Authentication failures are wrapped with ErrAuthenticationFailed.
func (d *MongoDialer) Dial(ctx context.Context, cred Credential) (Admin, error) {
	clientOptions := options.Client().ApplyURI(d.uri)
	if d.opts.ConnectTimeout > 0 {
		clientOptions.SetConnectTimeout(d.opts.ConnectTimeout)
	}
	if d.opts.ServerSelectionTimeout > 0 {
		clientOptions.SetServerSelectionTimeout(d.opts.ServerSelectionTimeout)
	}
	if d.opts.AppName != "" {
		clientOptions.SetAppName(d.opts.AppName)
	}
	clientOptions.SetMaxPoolSize(1)
	clientOptions.SetAuth(options.Credential{
		AuthMechanism: cred.Mechanism,
		AuthSource:    cred.Source,
		Username:      cred.Username,
		Password:      cred.Password,
	})

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, d.opts.OperationTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		if IsAuthError(err) {
			return nil, fmt.Errorf("%w for %s@%s: %w", ErrAuthenticationFailed, cred.Username, cred.Source, err)
		}
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	d.logger.Debugw("MongoDB session established", "user", cred.Username, "auth_source", cred.Source)

	return &MongoAdmin{
		client:  client,
		timeout: d.opts.OperationTimeout,
		logger:  d.logger,
	}, nil
}

// MongoAdmin runs administrative commands over one authenticated client.
type MongoAdmin struct {
	client  *mongo.Client
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func (m *MongoAdmin) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

func (m *MongoAdmin) database(name string) (*mongo.Database, error) {
	if m.client == nil {
		return nil, ErrSessionClosed
	}
	return m.client.Database(name), nil
}

// CollectionExists checks listCollections for an exact name match
func (m *MongoAdmin) CollectionExists(ctx context.Context, db, collection string) (bool, error) {
	database, err := m.database(db)
	if err != nil {
		return false, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	names, err := database.ListCollectionNames(ctx, bson.D{{Key: "name", Value: collection}})
	if err != nil {
		return false, fmt.Errorf("failed to list collections in %q: %w", db, err)
	}
	return len(names) > 0, nil
}

// CreateCollection creates collection in db; the database is created implicitly.
func (m *MongoAdmin) CreateCollection(ctx context.Context, db, collection string) error {
	database, err := m.database(db)
	if err != nil {
		return err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if err := database.CreateCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to create collection %s.%s: %w", db, collection, err)
	}
	return nil
}

// GetUser returns the user defined on db, or ErrUserNotFound.
func (m *MongoAdmin) GetUser(ctx context.Context, db, username string) (*UserInfo, error) {
	database, err := m.database(db)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	cmd := bson.D{{Key: "usersInfo", Value: bson.D{
		{Key: "user", Value: username},
		{Key: "db", Value: db},
	}}}

	var reply struct {
		Users []UserInfo `bson:"users"`
	}
	if err := database.RunCommand(ctx, cmd).Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to run usersInfo for %q: %w", username, err)
	}
	if len(reply.Users) == 0 {
		return nil, ErrUserNotFound
	}
	return &reply.Users[0], nil
}

// CreateUser runs createUser on db.
func (m *MongoAdmin) CreateUser(ctx context.Context, db string, spec UserSpec) error {
	return m.runUserCommand(ctx, db, "createUser", spec)
}

// UpdateUser runs updateUser on db, replacing password, mechanisms and roles.
func (m *MongoAdmin) UpdateUser(ctx context.Context, db string, spec UserSpec) error {
	return m.runUserCommand(ctx, db, "updateUser", spec)
}

func (m *MongoAdmin) runUserCommand(ctx context.Context, db, command string, spec UserSpec) error {
	database, err := m.database(db)
	if err != nil {
		return err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	roles := spec.Roles
	if roles == nil {
		roles = []Role{}
	}
	cmd := bson.D{
		{Key: command, Value: spec.Username},
		{Key: "pwd", Value: spec.Password},
		{Key: "roles", Value: roles},
	}
	if len(spec.Mechanisms) > 0 {
		cmd = append(cmd, bson.E{Key: "mechanisms", Value: spec.Mechanisms})
	}

	if err := database.RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("failed to run %s for %q on %q: %w", command, spec.Username, db, err)
	}
	return nil
}

// ConnectionStatus reports which users the session is authenticated as.
func (m *MongoAdmin) ConnectionStatus(ctx context.Context, db string) (*ConnectionStatus, error) {
	database, err := m.database(db)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var status ConnectionStatus
	if err := database.RunCommand(ctx, bson.D{{Key: "connectionStatus", Value: 1}}).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to run connectionStatus: %w", err)
	}
	return &status, nil
}

// Close disconnects the client. It is safe to call more than once.
func (m *MongoAdmin) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	return err
}
