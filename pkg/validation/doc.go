// Package validation extracts protobuf constraint annotations into a
// dialect-neutral form and enforces them against decoded requests.
//
// Two annotation dialects are understood: pgv (validate.rules from
// protoc-gen-validate) and protovalidate (buf.validate.field and
// buf.validate.message). Both are parsed into the same IR, so nothing
// downstream of the extractor knows which dialect a schema used. With the
// "auto" source, protovalidate wins if any of its annotations appear
// anywhere in the snapshot.
//
// CEL expressions are evaluated through the ExpressionEvaluator interface.
// A Validator built without an evaluator reports CEL constraints as
// unsupported rather than failing the request.
package validation
