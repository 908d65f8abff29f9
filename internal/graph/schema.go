// Package graph exposes the election service over GraphQL.
package graph

import (
	"net/http"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"campusvote.org/internal/election"
)

const schemaString = `
schema {
  query: Query
  mutation: Mutation
}

type Participant {
  id: ID!
  candidateId: String!
  name: String!
  votes: Int!
}

type Election {
  id: ID!
  title: String!
  section: String!
  year: String!
  startTime: String!
  endTime: String!
  isActive: Boolean!
  participants: [Participant!]!
  createdBy: String!
  createdAt: String!
}

type Listing {
  active: [Election!]!
  closed: [Election!]!
}

type Standing {
  participantId: ID!
  candidateId: String!
  name: String!
  votes: Int!
  percentage: Float!
}

type Results {
  election: Election!
  standings: [Standing!]!
  winner: Standing
  "Vote counts saturate at 2147483647."
  totalVotes: Int!
}

type Vote {
  id: ID!
  electionId: ID!
  participantId: ID!
  castAt: String!
}

type Query {
  election(id: ID!): Election!
  elections(section: String!, year: String!): Listing!
  results(id: ID!): Results!
}

type Mutation {
  castVote(electionId: ID!, participantId: ID!): Vote!
}
`

// NewSchema parses the schema against a resolver backed by svc.
func NewSchema(svc *election.Service) *graphql.Schema {
	return graphql.MustParseSchema(schemaString, &Resolver{svc: svc})
}

// NewHandler serves the schema with the relay JSON protocol. Callers must
// put the verified identity in the request context first.
func NewHandler(svc *election.Service) http.Handler {
	return &relay.Handler{Schema: NewSchema(svc)}
}
