// Package generator synthesizes demo users and savings groups for local
// development and load testing.
package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kixikila/backend/internal/domain"
)

// UserSeed is a generated account plus its opening deposit.
type UserSeed struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone"`
	InitialDeposit decimal.Decimal `json:"initialDeposit"`
}

// GroupSeed is a generated savings group. Member indexes refer to the
// user slice; the first index is the creator.
type GroupSeed struct {
	Name               string           `json:"name"`
	GroupType          domain.GroupType `json:"groupType"`
	ContributionAmount decimal.Decimal  `json:"contributionAmount"`
	MaxMembers         int              `json:"maxMembers"`
	MemberIndexes      []int            `json:"memberIndexes"`
	FirstPayoutDate    time.Time        `json:"firstPayoutDate"`
}

// Dataset contains the generated users and groups.
type Dataset struct {
	Users  []UserSeed  `json:"users"`
	Groups []GroupSeed `json:"groups"`
}

// Generator produces deterministic demo data for a given seed.
type Generator struct {
	cfg       Config
	rand      *rand.Rand
	fragments nameFragments
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.NumUsers <= 0 {
		cfg.NumUsers = def.NumUsers
	}
	if cfg.NumGroups < 0 {
		cfg.NumGroups = def.NumGroups
	}
	if cfg.MinDeposit <= 0 {
		cfg.MinDeposit = def.MinDeposit
	}
	if cfg.MaxDeposit <= cfg.MinDeposit {
		cfg.MaxDeposit = cfg.MinDeposit + def.MaxDeposit
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:       cfg,
		rand:      rand.New(rand.NewSource(cfg.Seed)),
		fragments: defaultNameFragments(),
	}
}

// Generate synthesizes users and groups. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	users := make([]UserSeed, g.cfg.NumUsers)
	for i := 0; i < g.cfg.NumUsers; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}

		name := g.randomFullName()
		deposit := g.cfg.MinDeposit + g.rand.Float64()*(g.cfg.MaxDeposit-g.cfg.MinDeposit)
		users[i] = UserSeed{
			ID:             fmt.Sprintf("demo-user-%03d", i+1),
			Name:           name,
			Email:          g.randomEmail(i),
			Phone:          g.randomPhone(),
			InitialDeposit: decimal.NewFromFloat(deposit).Round(2),
		}
	}

	groups := make([]GroupSeed, g.cfg.NumGroups)
	firstPayout := time.Now().UTC().AddDate(0, 1, 0).Truncate(24 * time.Hour)
	for i := 0; i < g.cfg.NumGroups; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}

		size := 3 + g.rand.Intn(5)
		if size > len(users) {
			size = len(users)
		}
		groups[i] = GroupSeed{
			Name:               g.randomGroupName(),
			GroupType:          g.randomGroupType(),
			ContributionAmount: decimal.NewFromInt(int64(10 * (1 + g.rand.Intn(10)))),
			MaxMembers:         size,
			MemberIndexes:      g.pickMembers(size),
			FirstPayoutDate:    firstPayout.AddDate(0, 0, g.rand.Intn(14)),
		}
	}

	return Dataset{Users: users, Groups: groups}, nil
}

// pickMembers selects distinct user indexes; the first is the creator.
func (g *Generator) pickMembers(count int) []int {
	perm := g.rand.Perm(g.cfg.NumUsers)
	members := make([]int, count)
	copy(members, perm[:count])
	return members
}

func (g *Generator) randomFullName() string {
	return fmt.Sprintf("%s %s",
		g.fragments.first[g.rand.Intn(len(g.fragments.first))],
		g.fragments.last[g.rand.Intn(len(g.fragments.last))])
}

func (g *Generator) randomEmail(i int) string {
	domain := g.fragments.domains[g.rand.Intn(len(g.fragments.domains))]
	return fmt.Sprintf("demo%03d@%s", i+1, domain)
}

func (g *Generator) randomPhone() string {
	return fmt.Sprintf("+244%03d%03d%03d", g.rand.Intn(900)+100, g.rand.Intn(900)+100, g.rand.Intn(1000))
}

func (g *Generator) randomGroupName() string {
	return fmt.Sprintf("%s %s",
		g.fragments.groupAdjectives[g.rand.Intn(len(g.fragments.groupAdjectives))],
		g.fragments.groupNouns[g.rand.Intn(len(g.fragments.groupNouns))])
}

func (g *Generator) randomGroupType() domain.GroupType {
	if g.rand.Intn(2) == 0 {
		return domain.GroupTypeOrder
	}
	return domain.GroupTypeLottery
}

type nameFragments struct {
	first           []string
	last            []string
	domains         []string
	groupAdjectives []string
	groupNouns      []string
}

func defaultNameFragments() nameFragments {
	return nameFragments{
		first:           []string{"Ana", "João", "Maria", "Pedro", "Luísa", "Carlos", "Isabel", "Miguel", "Teresa", "António", "Sofia", "Manuel", "Beatriz", "Rui", "Elisa"},
		last:            []string{"Santos", "Fernandes", "Silva", "Costa", "Pereira", "Gomes", "Martins", "Lopes", "Domingos", "Neto", "Cardoso", "Tavares"},
		domains:         []string{"example.com", "mail.com", "kixikila.test"},
		groupAdjectives: []string{"Família", "Vizinhos", "Colegas", "Amigos", "Mercado", "Bairro"},
		groupNouns:      []string{"Unidos", "do Futuro", "da Esperança", "Solidários", "em Frente", "da Poupança"},
	}
}
